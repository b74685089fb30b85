package protocol

import (
	"encoding/binary"

	"github.com/srg/zonelog/internal/metric"
)

// Standard heart-rate service GATT UUIDs (plus the battery level
// characteristic the strap exposes alongside it).
const (
	HeartRateServiceUUID     = "0000180d-0000-1000-8000-00805f9b34fb"
	HeartRateMeasurementUUID = "00002a37-0000-1000-8000-00805f9b34fb"
	BatteryLevelUUID         = "00002a19-0000-1000-8000-00805f9b34fb"
)

// HeartRateNamePattern matches the strap's advertised local name when the
// advertisement omits the 0x180D service UUID.
const HeartRateNamePattern = "Polar"

// Heart-rate measurement flag bits. Bits 0-4 follow the Bluetooth
// heart-rate service spec; bit 5 is the strap's vendor extension marking a
// trailing battery byte.
const (
	hrFlagFormat16       = 0x01
	hrFlagContactStatus  = 0x02
	hrFlagContactSupport = 0x04
	hrFlagEnergyExpended = 0x08
	hrFlagRRIntervals    = 0x10
	hrFlagBattery        = 0x20

	hrFlagsKnownMask = hrFlagFormat16 | hrFlagContactStatus | hrFlagContactSupport |
		hrFlagEnergyExpended | hrFlagRRIntervals | hrFlagBattery
)

// BatteryUnknown in the trailing battery byte means the strap could not
// sample its battery; it maps to an absent BatteryPercent.
const BatteryUnknown = 0xFF

// DecodeHeartRate decodes a heart-rate measurement notification.
// Flag bit 0 selects 8- vs 16-bit BPM; optional energy-expended and
// RR-interval fields are skipped; a vendor flag marks a trailing battery
// byte (0xFF = unknown = absent). CapturedAt is left zero for the caller
// to stamp at receipt time.
func DecodeHeartRate(data []byte) (metric.HeartRateSample, error) {
	var s metric.HeartRateSample

	if len(data) == 0 {
		return s, truncatedf("empty payload")
	}
	flags := data[0]
	if flags&^byte(hrFlagsKnownMask) != 0 {
		return s, invalidf("unknown flag bits 0x%02x", flags&^byte(hrFlagsKnownMask))
	}
	offset := 1

	var bpm uint16
	if flags&hrFlagFormat16 != 0 {
		if len(data) < offset+2 {
			return s, truncatedf("16-bit BPM needs 2 bytes, have %d", len(data)-offset)
		}
		bpm = binary.LittleEndian.Uint16(data[offset:])
		offset += 2
	} else {
		if len(data) < offset+1 {
			return s, truncatedf("8-bit BPM missing")
		}
		bpm = uint16(data[offset])
		offset++
	}
	if bpm == 0 {
		return s, invalidf("zero heart rate")
	}

	if flags&hrFlagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return s, truncatedf("energy expended field missing")
		}
		offset += 2
	}

	end := len(data)
	var battery *uint8
	if flags&hrFlagBattery != 0 {
		if end <= offset {
			return s, truncatedf("battery byte missing")
		}
		end--
		b := data[end]
		switch {
		case b == BatteryUnknown:
			// unknown, leave absent
		case b > 100:
			return s, invalidf("battery %d%% out of range", b)
		default:
			battery = &b
		}
	}

	// Trailing bytes with no field claiming them are tolerated as a
	// forward-compatible tail, matching the treadmill decoder. RR intervals
	// are the exception: a half interval means the frame is malformed.
	if flags&hrFlagRRIntervals != 0 && (end-offset)%2 != 0 {
		return s, invalidf("RR interval field is %d bytes, want a multiple of 2", end-offset)
	}

	s.BPM = bpm
	s.BatteryPercent = battery
	return s, nil
}

// EncodeHeartRate builds a measurement notification for the given sample.
// batteryByte is appended with the vendor flag when withBattery is true;
// pass BatteryUnknown to encode an unknown battery. Used by simulated
// peripherals in tests.
func EncodeHeartRate(bpm uint16, withBattery bool, batteryByte uint8) []byte {
	var flags byte
	buf := make([]byte, 1, 4)
	if bpm > 0xFF {
		flags |= hrFlagFormat16
		buf = binary.LittleEndian.AppendUint16(buf, bpm)
	} else {
		buf = append(buf, uint8(bpm))
	}
	if withBattery {
		flags |= hrFlagBattery
		buf = append(buf, batteryByte)
	}
	buf[0] = flags
	return buf
}
