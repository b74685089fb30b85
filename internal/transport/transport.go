// Package transport defines the contract the core depends on for BLE
// access: scanning, connecting, notification subscription, command writes,
// and disconnect events. The go-ble backed implementation lives in the
// goble subpackage; tests substitute their own.
package transport

import (
	"context"
	"time"
)

// Advertisement is the discovery-time view of a peripheral.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Conn is a live connection to one peripheral. A Conn belongs exclusively
// to the session that dialed it.
type Conn interface {
	// Subscribe enables notifications on the characteristic and invokes
	// handler for every payload until the connection drops or Close is
	// called. Handler invocations for one characteristic are sequential.
	Subscribe(char string, handler func(data []byte)) error

	// WriteCommand writes a command packet to the characteristic with
	// response.
	WriteCommand(char string, data []byte) error

	// Read reads the current value of the characteristic.
	Read(char string, timeout time.Duration) ([]byte, error)

	// Disconnected is closed when the transport reports the link is gone.
	Disconnected() <-chan struct{}

	// Close releases the connection. Safe to call after a disconnect.
	Close() error
}

// Transport is the four-operation BLE stack contract (scan, connect,
// subscribe, disconnect events) plus the command write the treadmill
// handshake needs.
type Transport interface {
	// Scan reports advertisements to handler until ctx is done. allowDup
	// controls whether repeat advertisements from one address are
	// delivered again.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error

	// Connect dials the peripheral at addr.
	Connect(ctx context.Context, addr string) (Conn, error)
}
