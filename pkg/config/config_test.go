package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/zonelog/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ".", cfg.CSVDir)
	assert.Equal(t, 64, cfg.BusCapacity)
	assert.Equal(t, uint32(256), cfg.FrameTapSize)
	assert.Equal(t, time.Second, cfg.PrintInterval)
	assert.Equal(t, 15*time.Second, cfg.Discovery.SearchingInterval)
	assert.Equal(t, 20*time.Second, cfg.Discovery.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.Reconnect.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxInterval)
	assert.Equal(t, 2.0, cfg.Reconnect.Multiplier)
	assert.Equal(t, 0.25, cfg.Reconnect.Jitter)
	assert.Equal(t, time.Second, cfg.Treadmill.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.HeartRate.BatteryInterval)
	assert.Equal(t, uint16(110), cfg.Zone2.MinBPM)
	assert.Equal(t, uint16(140), cfg.Zone2.MaxBPM)

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
csv_dir: /var/log/zonelog
treadmill:
  poll_interval: 2s
zone2:
  min_bpm: 115
  max_bpm: 135
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/log/zonelog", cfg.CSVDir)
	assert.Equal(t, 2*time.Second, cfg.Treadmill.PollInterval)
	assert.Equal(t, uint16(115), cfg.Zone2.MinBPM)
	assert.Equal(t, uint16(135), cfg.Zone2.MaxBPM)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.HeartRate.BatteryInterval)
	assert.Equal(t, 64, cfg.BusCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "log_level: [unclosed")
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{
			name:   "bad log level",
			mutate: func(c *config.Config) { c.LogLevel = "chatty" },
			errMsg: "invalid log_level",
		},
		{
			name:   "negative bus capacity",
			mutate: func(c *config.Config) { c.BusCapacity = -1 },
			errMsg: "bus_capacity",
		},
		{
			name:   "multiplier below one",
			mutate: func(c *config.Config) { c.Reconnect.Multiplier = 0.5 },
			errMsg: "reconnect.multiplier",
		},
		{
			name:   "jitter out of range",
			mutate: func(c *config.Config) { c.Reconnect.Jitter = 1.5 },
			errMsg: "reconnect.jitter",
		},
		{
			name: "inverted zone band",
			mutate: func(c *config.Config) {
				c.Zone2.MinBPM = 150
				c.Zone2.MaxBPM = 120
			},
			errMsg: "zone2.min_bpm",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
