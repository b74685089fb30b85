// Package bus provides the in-process fan-in point merging metric events
// from all sessions into one ordered stream.
package bus

import (
	"context"
	"sync/atomic"

	"github.com/srg/zonelog/internal/metric"
)

// Bus merges events from concurrent producers into a single consumer
// channel. Per-producer ordering is preserved. When the consumer lags, a
// full bus blocks producers (backpressure) instead of dropping events:
// data fidelity matters more than real-time delivery here.
type Bus struct {
	ch        chan metric.Event
	published atomic.Uint64
}

// New creates a bus with the given channel capacity. Capacity only
// smooths bursts; it never permits drops.
func New(capacity int) *Bus {
	if capacity < 0 {
		capacity = 0
	}
	return &Bus{ch: make(chan metric.Event, capacity)}
}

// Publish appends an event, blocking while the bus is full. It returns
// ctx.Err() if the context is cancelled before the event is accepted.
func (b *Bus) Publish(ctx context.Context, ev metric.Event) error {
	select {
	case b.ch <- ev:
		b.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer channel. It is closed by Close once all
// producers have stopped.
func (b *Bus) Events() <-chan metric.Event {
	return b.ch
}

// Published returns the total number of events accepted, for diagnostics.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close closes the consumer channel. The caller must guarantee no
// producer will publish afterwards.
func (b *Bus) Close() {
	close(b.ch)
}
