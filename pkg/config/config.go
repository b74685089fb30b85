// Package config holds application configuration: YAML-loadable with
// struct-tag defaults, validated before use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// CSVDir is where session log files are created.
	CSVDir string `yaml:"csv_dir" default:"."`

	// BusCapacity smooths bursts between sessions and the consumer; a
	// full bus blocks producers rather than dropping samples.
	BusCapacity int `yaml:"bus_capacity" default:"64"`

	// FrameTapSize is how many raw frames the debug tap retains.
	FrameTapSize uint32 `yaml:"frame_tap_size" default:"256"`

	PrintInterval time.Duration `yaml:"print_interval" default:"1s"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Treadmill TreadmillConfig `yaml:"treadmill"`
	HeartRate HeartRateConfig `yaml:"heart_rate"`
	Zone2     Zone2Config     `yaml:"zone2"`
}

// DiscoveryConfig tunes device discovery.
type DiscoveryConfig struct {
	// SearchingInterval is how often a session still waiting for its
	// device reports liveness.
	SearchingInterval time.Duration `yaml:"searching_interval" default:"15s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"20s"`
}

// ReconnectConfig tunes the per-session reconnection backoff.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"30s"`
	Multiplier      float64       `yaml:"multiplier" default:"2.0"`
	Jitter          float64       `yaml:"jitter" default:"0.25"`
}

// TreadmillConfig tunes the treadmill session.
type TreadmillConfig struct {
	// PollInterval is how often the vendor poll sequence is re-sent while
	// streaming.
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
}

// HeartRateConfig tunes the heart-rate session.
type HeartRateConfig struct {
	// BatteryInterval is how often the battery level is read (also serves
	// as a link keep-alive).
	BatteryInterval time.Duration `yaml:"battery_interval" default:"60s"`
}

// Zone2Config is the target aerobic heart-rate band for the console
// adherence marker.
type Zone2Config struct {
	MinBPM uint16 `yaml:"min_bpm" default:"110"`
	MaxBPM uint16 `yaml:"max_bpm" default:"140"`
}

// DefaultConfig returns the configuration with all defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.BusCapacity < 0 {
		return fmt.Errorf("bus_capacity must be >= 0, got %d", c.BusCapacity)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1, got %g", c.Reconnect.Multiplier)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be in [0,1], got %g", c.Reconnect.Jitter)
	}
	if c.Zone2.MaxBPM > 0 && c.Zone2.MinBPM > c.Zone2.MaxBPM {
		return fmt.Errorf("zone2.min_bpm %d exceeds zone2.max_bpm %d", c.Zone2.MinBPM, c.Zone2.MaxBPM)
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
