package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig parameterizes the reconnection delay: exponential with
// jitter, capped, and never giving up (reconnection is retried
// indefinitely; only adapter-level failures end a session).
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// DefaultBackoffConfig returns the standard reconnect policy: 1s initial,
// doubling to a 30s cap, with 25% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.25,
	}
}

// newBackoff builds the exponential policy. MaxElapsedTime is zero so
// NextBackOff never returns Stop.
func newBackoff(cfg BackoffConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter >= 0 {
		b.RandomizationFactor = cfg.Jitter
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
