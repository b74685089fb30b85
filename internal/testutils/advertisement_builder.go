// Package testutils provides fake transport infrastructure and fixture
// builders shared by the package tests.
package testutils

import (
	"github.com/srg/zonelog/internal/transport"
)

// FakeAdvertisement is a scripted advertisement.
type FakeAdvertisement struct {
	name        string
	addr        string
	rssi        int
	services    []string
	connectable bool
}

var _ transport.Advertisement = (*FakeAdvertisement)(nil)

func (a *FakeAdvertisement) LocalName() string  { return a.name }
func (a *FakeAdvertisement) Addr() string       { return a.addr }
func (a *FakeAdvertisement) RSSI() int          { return a.rssi }
func (a *FakeAdvertisement) Services() []string { return a.services }
func (a *FakeAdvertisement) Connectable() bool  { return a.connectable }

// AdvertisementBuilder builds FakeAdvertisements fluently.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder starts a builder with a connectable device at a
// placeholder address.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{
		addr:        "AA:BB:CC:DD:EE:FF",
		rssi:        -50,
		connectable: true,
	}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = uuids
	return b
}

func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.adv.connectable = connectable
	return b
}

func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}
