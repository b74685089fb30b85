// Package metric defines the typed training metrics flowing through the
// system: treadmill telemetry, heart-rate measurements, and the tagged
// event union delivered on the bus.
package metric

import (
	"fmt"
	"time"
)

// Family identifies the class of BLE peripheral a metric originates from.
type Family int

const (
	FamilyTreadmill Family = iota
	FamilyHeartRate
)

func (f Family) String() string {
	switch f {
	case FamilyTreadmill:
		return "treadmill"
	case FamilyHeartRate:
		return "heart-rate"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// DeviceIdentity is resolved once at discovery time and stays stable for
// the life of a session.
type DeviceIdentity struct {
	Family  Family
	Address string
	Name    string
}

func (d DeviceIdentity) String() string {
	if d.Name == "" {
		return fmt.Sprintf("%s [%s]", d.Family, d.Address)
	}
	return fmt.Sprintf("%s %q [%s]", d.Family, d.Name, d.Address)
}

// TreadmillSample is one decoded treadmill telemetry frame.
type TreadmillSample struct {
	SpeedKPH       float64
	InclinePercent float64
	DistanceM      float64
	CapturedAt     time.Time
}

// HeartRateSample is one decoded heart-rate measurement. BatteryPercent is
// nil unless the payload variant (or a battery characteristic read) carried
// a known value.
type HeartRateSample struct {
	BPM            uint16
	BatteryPercent *uint8
	CapturedAt     time.Time
}

// Event is the tagged union flowing through the bus. Exactly one of
// Treadmill/HeartRate is set, matching Device.Family.
type Event struct {
	Device    DeviceIdentity
	Treadmill *TreadmillSample
	HeartRate *HeartRateSample
}

// NewTreadmillEvent builds a treadmill event for the given device.
func NewTreadmillEvent(dev DeviceIdentity, s TreadmillSample) Event {
	return Event{Device: dev, Treadmill: &s}
}

// NewHeartRateEvent builds a heart-rate event for the given device.
func NewHeartRateEvent(dev DeviceIdentity, s HeartRateSample) Event {
	return Event{Device: dev, HeartRate: &s}
}

// CapturedAt returns the capture timestamp of whichever sample the event
// carries. Zero time for a malformed (empty) event.
func (e Event) CapturedAt() time.Time {
	switch {
	case e.Treadmill != nil:
		return e.Treadmill.CapturedAt
	case e.HeartRate != nil:
		return e.HeartRate.CapturedAt
	default:
		return time.Time{}
	}
}
