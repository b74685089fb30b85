// Package trace captures the most recent raw notification frames per
// device family into a bounded overlapped ring, so a debug dump at
// shutdown can show what was actually on the air without unbounded
// memory growth during long runs.
package trace

import (
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/zonelog/internal/metric"
)

// Frame is one captured raw notification.
type Frame struct {
	Family metric.Family
	Data   []byte
	At     time.Time
}

// FrameTap records raw frames into an overlapped ring buffer. Capture is
// safe from concurrent notification handlers; old frames are overwritten
// once the ring is full.
type FrameTap struct {
	buffer   mpmc.RichOverlappedRingBuffer[Frame]
	captured atomic.Uint64
}

// NewFrameTap creates a tap keeping the last `capacity` frames.
func NewFrameTap(capacity uint32) *FrameTap {
	return &FrameTap{
		buffer: mpmc.NewOverlappedRingBuffer[Frame](capacity),
	}
}

// Capture records one raw frame. The payload is copied; callers may reuse
// their buffer.
func (t *FrameTap) Capture(family metric.Family, data []byte, at time.Time) {
	frame := Frame{
		Family: family,
		Data:   append([]byte(nil), data...),
		At:     at,
	}
	if _, err := t.buffer.EnqueueM(frame); err != nil {
		// Overlapped enqueue only fails on a zero-capacity ring.
		return
	}
	t.captured.Add(1)
}

// Captured returns the total number of frames seen (including ones the
// ring has since overwritten).
func (t *FrameTap) Captured() uint64 {
	return t.captured.Load()
}

// Drain removes and returns the retained frames, oldest first.
func (t *FrameTap) Drain() []Frame {
	var frames []Frame
	for !t.buffer.IsEmpty() {
		frame, err := t.buffer.Dequeue()
		if err != nil {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

// Dump logs the retained frames at debug level and empties the ring.
func (t *FrameTap) Dump(logger *logrus.Logger) {
	if logger == nil || !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for _, frame := range t.Drain() {
		logger.WithFields(logrus.Fields{
			"family": frame.Family.String(),
			"at":     frame.At.Format(time.RFC3339Nano),
			"raw":    hex.EncodeToString(frame.Data),
		}).Debug("captured frame")
	}
}
