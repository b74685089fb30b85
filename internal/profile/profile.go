// Package profile defines per-family device behavior: how a family is
// recognized in advertisements, which characteristic streams telemetry,
// how payloads decode, and what the session must do besides listening
// (handshakes, keep-alives).
package profile

import (
	"strings"
	"time"

	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/transport"
)

// Profile describes one device family to a session. Implementations may
// carry per-session state (the heart-rate profile caches the last battery
// read), so a fresh Profile must be created for every session.
type Profile interface {
	Family() metric.Family

	// Match reports whether the advertisement belongs to this family.
	Match(adv transport.Advertisement) bool

	// NotifyCharacteristic is the characteristic streaming telemetry.
	NotifyCharacteristic() string

	// Decode turns one raw notification into an event for dev, stamped
	// with the receipt time.
	Decode(dev metric.DeviceIdentity, data []byte, at time.Time) (metric.Event, error)

	// Setup runs after the notification subscription succeeds (vendor
	// handshakes). A Setup error is retryable.
	Setup(conn transport.Conn) error

	// KeepAlive runs every KeepAliveInterval while streaming. A zero
	// interval disables it.
	KeepAlive(conn transport.Conn) error
	KeepAliveInterval() time.Duration
}

// bluetoothBaseSuffix is the tail of the 128-bit Bluetooth base UUID that
// 16-bit short UUIDs expand into.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// expandUUID normalizes a UUID to 128-bit lowercase no-dash form,
// expanding 16-bit short UUIDs against the Bluetooth base.
func expandUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 4 {
		return "0000" + u + bluetoothBaseSuffix
	}
	return u
}

// advertisesService reports whether the advertisement carries the service
// UUID in any of its accepted forms.
func advertisesService(adv transport.Advertisement, serviceUUID string) bool {
	want := expandUUID(serviceUUID)
	for _, svc := range adv.Services() {
		if expandUUID(svc) == want {
			return true
		}
	}
	return false
}
