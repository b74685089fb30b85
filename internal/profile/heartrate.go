package profile

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/protocol"
	"github.com/srg/zonelog/internal/transport"
)

// batteryReadTimeout bounds the periodic battery characteristic read.
const batteryReadTimeout = 5 * time.Second

// HeartRate drives the heart-rate strap: standard 0x2A37 measurement
// notifications plus a periodic battery read that doubles as a link
// keep-alive. The last battery reading is folded into samples whose
// payload did not carry one.
type HeartRate struct {
	// BatteryInterval is how often the battery characteristic is read
	// while streaming.
	BatteryInterval time.Duration

	// lastBattery holds 1+percent so zero means "no reading yet".
	lastBattery atomic.Uint32
}

// NewHeartRate creates a heart-rate profile with the given battery
// keep-alive interval.
func NewHeartRate(batteryInterval time.Duration) *HeartRate {
	return &HeartRate{BatteryInterval: batteryInterval}
}

func (h *HeartRate) Family() metric.Family { return metric.FamilyHeartRate }

// Match accepts the standard heart-rate service UUID, or the strap's name
// pattern for advertisements that omit the service list.
func (h *HeartRate) Match(adv transport.Advertisement) bool {
	if advertisesService(adv, protocol.HeartRateServiceUUID) {
		return true
	}
	return strings.Contains(adv.LocalName(), protocol.HeartRateNamePattern)
}

func (h *HeartRate) NotifyCharacteristic() string { return protocol.HeartRateMeasurementUUID }

func (h *HeartRate) Decode(dev metric.DeviceIdentity, data []byte, at time.Time) (metric.Event, error) {
	sample, err := protocol.DecodeHeartRate(data)
	if err != nil {
		return metric.Event{}, err
	}
	sample.CapturedAt = at
	if sample.BatteryPercent == nil {
		if v := h.lastBattery.Load(); v != 0 {
			pct := uint8(v - 1)
			sample.BatteryPercent = &pct
		}
	}
	return metric.NewHeartRateEvent(dev, sample), nil
}

// Setup reads the battery once so the first samples already carry it.
// A failed read is not fatal; the keep-alive will retry.
func (h *HeartRate) Setup(conn transport.Conn) error {
	_ = h.readBattery(conn)
	return nil
}

// KeepAlive reads the battery level. Besides refreshing the cached value,
// the read keeps an otherwise idle link from being torn down by the strap.
func (h *HeartRate) KeepAlive(conn transport.Conn) error {
	return h.readBattery(conn)
}

func (h *HeartRate) KeepAliveInterval() time.Duration { return h.BatteryInterval }

func (h *HeartRate) readBattery(conn transport.Conn) error {
	data, err := conn.Read(protocol.BatteryLevelUUID, batteryReadTimeout)
	if err != nil {
		return err
	}
	if len(data) == 0 || data[0] > 100 {
		return nil // malformed battery value, keep the previous reading
	}
	h.lastBattery.Store(uint32(data[0]) + 1)
	return nil
}
