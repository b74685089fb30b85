package goble

import (
	"github.com/go-ble/ble"
)

// advertisement wraps ble.Advertisement behind the transport contract.
type advertisement struct {
	adv ble.Advertisement
}

func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) Addr() string      { return a.adv.Addr().String() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool { return a.adv.Connectable() }

func (a *advertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = svc.String()
	}
	return result
}
