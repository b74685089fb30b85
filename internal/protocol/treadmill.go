// Package protocol implements pure decoding of BLE notification payloads
// for the two supported device families, plus the vendor constants
// (UUIDs, command sequences) those families require.
//
// Decoding is total: any byte sequence yields either a sample or a
// DecodeError, never a panic.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/srg/zonelog/internal/metric"
)

// iFit vendor GATT UUIDs. Reverse-engineered; valid for firmware rev 1.
const (
	TreadmillServiceUUID = "00001533-1412-efde-1523-785feabcd123"
	TreadmillNotifyUUID  = "00001535-1412-efde-1523-785feabcd123"
	TreadmillCommandUUID = "00001534-1412-efde-1523-785feabcd123"
)

// telemetrySignature marks the start of a speed/incline/distance frame
// inside an iFit notification. Field offsets below are relative to the
// byte after the signature plus a one-byte pad.
var telemetrySignature = []byte{0x2e, 0x04, 0x2e, 0x02}

const (
	treadmillFieldsOffset = 5 // len(telemetrySignature) + one pad byte
	treadmillFieldsLen    = 8 // speed u16, incline s16, 2 reserved, distance u16

	speedScale   = 100.0 // raw/100 -> km/h
	inclineScale = 100.0 // raw/100 -> percent, signed for decline
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// treadmillInitSequence is the session handshake written to the command
// characteristic after subscribing. The treadmill will not stream
// telemetry without it.
var treadmillInitSequence = [][]byte{
	mustHex("fe022c04"),
	mustHex("0012020402280428900701cec4b0aaa2a8949696"),
	mustHex("0112aca8a2bad0dccefe14003a52786486a6fc18"),
	mustHex("ff08324aa0880200004400000000000000000000"),
}

// treadmillPollSequence must be re-sent periodically while streaming or
// the treadmill stops emitting telemetry frames.
var treadmillPollSequence = [][]byte{
	mustHex("fe021403"),
	mustHex("001202040210041002000a1b9430000040500080"),
	mustHex("ff02182700000000000000000000000000000000"),
}

func copyPackets(src [][]byte) [][]byte {
	out := make([][]byte, len(src))
	for i, p := range src {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// TreadmillInitSequence returns the command packets for the post-subscribe
// handshake. The returned slices are copies; callers may retain them.
func TreadmillInitSequence() [][]byte { return copyPackets(treadmillInitSequence) }

// TreadmillPollSequence returns the periodic keep-alive command packets.
func TreadmillPollSequence() [][]byte { return copyPackets(treadmillPollSequence) }

// DecodeTreadmill decodes an iFit telemetry notification. The frame is
// located by its signature; bytes beyond the known fields are a
// forward-compatible tail and are ignored. CapturedAt is left zero for the
// caller to stamp at receipt time.
func DecodeTreadmill(data []byte) (metric.TreadmillSample, error) {
	var s metric.TreadmillSample

	idx := bytes.Index(data, telemetrySignature)
	if idx < 0 {
		if len(data) < len(telemetrySignature) {
			return s, truncatedf("payload %d bytes, signature needs %d", len(data), len(telemetrySignature))
		}
		return s, invalidf("telemetry signature not found in %d-byte payload", len(data))
	}

	start := idx + treadmillFieldsOffset
	if len(data) < start+treadmillFieldsLen {
		return s, truncatedf("telemetry frame needs %d bytes after signature, have %d", treadmillFieldsLen, len(data)-start)
	}

	speedRaw := binary.LittleEndian.Uint16(data[start:])
	inclineRaw := int16(binary.LittleEndian.Uint16(data[start+2:]))
	distanceRaw := binary.LittleEndian.Uint16(data[start+6:])

	s.SpeedKPH = float64(speedRaw) / speedScale
	s.InclinePercent = float64(inclineRaw) / inclineScale
	s.DistanceM = float64(distanceRaw)
	return s, nil
}

// EncodeTreadmill builds a telemetry notification for the given sample.
// Used by simulated peripherals in tests.
func EncodeTreadmill(s metric.TreadmillSample) []byte {
	buf := make([]byte, 0, treadmillFieldsOffset+treadmillFieldsLen)
	buf = append(buf, telemetrySignature...)
	buf = append(buf, 0x00) // pad
	var fields [treadmillFieldsLen]byte
	binary.LittleEndian.PutUint16(fields[0:], uint16(math.Round(s.SpeedKPH*speedScale)))
	binary.LittleEndian.PutUint16(fields[2:], uint16(int16(math.Round(s.InclinePercent*inclineScale))))
	binary.LittleEndian.PutUint16(fields[6:], uint16(math.Round(s.DistanceM)))
	return append(buf, fields[:]...)
}
