package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/zonelog/internal/protocol"
)

func TestDecodeHeartRate(t *testing.T) {
	batt42 := uint8(42)
	batt100 := uint8(100)

	tests := []struct {
		name        string
		payload     []byte
		wantBPM     uint16
		wantBattery *uint8
	}{
		{
			name:    "8-bit BPM",
			payload: []byte{0x00, 72},
			wantBPM: 72,
		},
		{
			name:    "16-bit BPM",
			payload: []byte{0x01, 0x8e, 0x00}, // 142
			wantBPM: 142,
		},
		{
			name:        "8-bit BPM with battery byte",
			payload:     []byte{0x20, 120, 42},
			wantBPM:     120,
			wantBattery: &batt42,
		},
		{
			name:    "battery byte 0xFF maps to absent",
			payload: []byte{0x20, 120, 0xff},
			wantBPM: 120,
		},
		{
			name:        "full battery",
			payload:     []byte{0x20, 65, 100},
			wantBPM:     65,
			wantBattery: &batt100,
		},
		{
			name:    "contact flags are tolerated",
			payload: []byte{0x06, 88},
			wantBPM: 88,
		},
		{
			name: "energy expended field is skipped",
			// flags: energy expended | battery
			payload:     []byte{0x28, 95, 0x10, 0x27, 42},
			wantBPM:     95,
			wantBattery: &batt42,
		},
		{
			name: "RR intervals are skipped",
			// flags: RR | battery; two RR intervals then battery
			payload:     []byte{0x30, 130, 0x00, 0x04, 0x20, 0x04, 42},
			wantBPM:     130,
			wantBattery: &batt42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.DecodeHeartRate(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBPM, got.BPM)
			if tt.wantBattery == nil {
				assert.Nil(t, got.BatteryPercent)
			} else {
				require.NotNil(t, got.BatteryPercent)
				assert.Equal(t, *tt.wantBattery, *got.BatteryPercent)
			}
			assert.True(t, got.CapturedAt.IsZero(), "decoder must not stamp time")
		})
	}
}

func TestDecodeHeartRateErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{
			name:    "empty payload",
			payload: nil,
			wantErr: protocol.ErrTruncated,
		},
		{
			name:    "flags only",
			payload: []byte{0x00},
			wantErr: protocol.ErrTruncated,
		},
		{
			name:    "16-bit BPM with one byte",
			payload: []byte{0x01, 0x8e},
			wantErr: protocol.ErrTruncated,
		},
		{
			name:    "battery flag without battery byte",
			payload: []byte{0x21, 0x8e, 0x00},
			wantErr: protocol.ErrTruncated,
		},
		{
			name:    "unknown flag bits",
			payload: []byte{0x80, 72},
			wantErr: protocol.ErrInvalidFormat,
		},
		{
			name:    "zero heart rate",
			payload: []byte{0x00, 0x00},
			wantErr: protocol.ErrInvalidFormat,
		},
		{
			name:    "battery out of range",
			payload: []byte{0x20, 72, 101},
			wantErr: protocol.ErrInvalidFormat,
		},
		{
			name:    "odd RR interval bytes",
			payload: []byte{0x10, 72, 0x01},
			wantErr: protocol.ErrInvalidFormat,
		},
		{
			name:    "energy expended cut off",
			payload: []byte{0x08, 72, 0x10},
			wantErr: protocol.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.DecodeHeartRate(tt.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, protocol.IsDecodeError(err))
		})
	}
}

func TestEncodeHeartRate(t *testing.T) {
	t.Run("8-bit round trip with battery", func(t *testing.T) {
		got, err := protocol.DecodeHeartRate(protocol.EncodeHeartRate(118, true, 87))
		require.NoError(t, err)
		assert.Equal(t, uint16(118), got.BPM)
		require.NotNil(t, got.BatteryPercent)
		assert.Equal(t, uint8(87), *got.BatteryPercent)
	})

	t.Run("16-bit round trip", func(t *testing.T) {
		got, err := protocol.DecodeHeartRate(protocol.EncodeHeartRate(300, false, 0))
		require.NoError(t, err)
		assert.Equal(t, uint16(300), got.BPM)
		assert.Nil(t, got.BatteryPercent)
	})

	t.Run("unknown battery encodes to absent", func(t *testing.T) {
		got, err := protocol.DecodeHeartRate(protocol.EncodeHeartRate(90, true, protocol.BatteryUnknown))
		require.NoError(t, err)
		assert.Nil(t, got.BatteryPercent)
	})
}
