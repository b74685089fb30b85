package profile

import (
	"fmt"
	"time"

	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/protocol"
	"github.com/srg/zonelog/internal/transport"
)

// Treadmill drives the iFit vendor protocol: telemetry notifications plus
// the command-channel handshake and periodic poll writes the firmware
// requires to keep streaming.
type Treadmill struct {
	// PollInterval is how often the poll sequence is re-sent while
	// streaming.
	PollInterval time.Duration
}

// NewTreadmill creates a treadmill profile with the given poll interval.
func NewTreadmill(pollInterval time.Duration) *Treadmill {
	return &Treadmill{PollInterval: pollInterval}
}

func (t *Treadmill) Family() metric.Family { return metric.FamilyTreadmill }

func (t *Treadmill) Match(adv transport.Advertisement) bool {
	return advertisesService(adv, protocol.TreadmillServiceUUID)
}

func (t *Treadmill) NotifyCharacteristic() string { return protocol.TreadmillNotifyUUID }

func (t *Treadmill) Decode(dev metric.DeviceIdentity, data []byte, at time.Time) (metric.Event, error) {
	sample, err := protocol.DecodeTreadmill(data)
	if err != nil {
		return metric.Event{}, err
	}
	sample.CapturedAt = at
	return metric.NewTreadmillEvent(dev, sample), nil
}

// Setup writes the session init handshake. Without it the treadmill never
// emits telemetry frames.
func (t *Treadmill) Setup(conn transport.Conn) error {
	for i, packet := range protocol.TreadmillInitSequence() {
		if err := conn.WriteCommand(protocol.TreadmillCommandUUID, packet); err != nil {
			return fmt.Errorf("init handshake packet %d/%d: %w", i+1, len(protocol.TreadmillInitSequence()), err)
		}
	}
	return nil
}

// KeepAlive re-sends the poll sequence; the treadmill stops notifying if
// it is not polled.
func (t *Treadmill) KeepAlive(conn transport.Conn) error {
	for i, packet := range protocol.TreadmillPollSequence() {
		if err := conn.WriteCommand(protocol.TreadmillCommandUUID, packet); err != nil {
			return fmt.Errorf("poll packet %d/%d: %w", i+1, len(protocol.TreadmillPollSequence()), err)
		}
	}
	return nil
}

func (t *Treadmill) KeepAliveInterval() time.Duration { return t.PollInterval }
