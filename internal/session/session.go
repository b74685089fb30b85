// Package session implements the per-peripheral connection-lifecycle
// state machine: discovery, connect, subscribe, streaming, and automatic
// recovery from disconnects with exponential backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/zonelog/internal/bus"
	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/trace"
	"github.com/srg/zonelog/internal/transport"
)

const (
	// frameBuffer smooths notification bursts between the transport
	// callback and the streaming loop. When it fills, the callback blocks:
	// backpressure propagates to the radio rather than dropping samples.
	frameBuffer = 16

	// DefaultSearchingInterval is how often a discovering session reports
	// that it is still looking for its device.
	DefaultSearchingInterval = 15 * time.Second

	// DefaultConnectTimeout bounds one connection attempt.
	DefaultConnectTimeout = 20 * time.Second
)

// Config wires one session to its collaborators.
type Config struct {
	Profile   profile.Profile
	Transport transport.Transport
	Bus       *bus.Bus
	Logger    *logrus.Logger

	// Advertisements delivers identities of discovered devices matching
	// the session's family.
	Advertisements <-chan metric.DeviceIdentity

	// Reports receives state transitions; sends never block (a slow
	// supervisor loses reports, not the session).
	Reports chan<- Transition

	// Tap captures raw frames for debug dumps. Optional.
	Tap *trace.FrameTap

	SearchingInterval time.Duration
	ConnectTimeout    time.Duration
	Backoff           BackoffConfig
}

// rawFrame is a notification payload stamped at receipt.
type rawFrame struct {
	data []byte
	at   time.Time
}

// Session owns one BLE connection and its state. Run drives the machine
// until the context is cancelled or a non-retryable failure occurs.
type Session struct {
	cfg    Config
	logger *logrus.Logger
	boff   interface {
		NextBackOff() time.Duration
		Reset()
	}

	state        atomic.Int32
	attempts     atomic.Uint64
	decodeErrors atomic.Uint64

	mu       sync.Mutex
	identity metric.DeviceIdentity

	// lastStamp enforces non-decreasing capture timestamps across
	// reconnects. Touched only by the Run goroutine.
	lastStamp time.Time

	// dropped counts transition reports the supervisor was too slow for.
	dropped atomic.Uint64
}

// New creates a session in StateDiscovering.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.SearchingInterval <= 0 {
		cfg.SearchingInterval = DefaultSearchingInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		boff:   newBackoff(cfg.Backoff),
	}
	s.state.Store(int32(StateDiscovering))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Identity returns the device identity, zero until discovery resolves it.
func (s *Session) Identity() metric.DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Family returns the device family this session serves.
func (s *Session) Family() metric.Family {
	return s.cfg.Profile.Family()
}

// Attempts returns the diagnostic reconnection counter.
func (s *Session) Attempts() uint64 {
	return s.attempts.Load()
}

// DecodeErrors returns the count of notifications dropped as undecodable.
func (s *Session) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

func (s *Session) setIdentity(dev metric.DeviceIdentity) {
	s.mu.Lock()
	s.identity = dev
	s.mu.Unlock()
}

// report publishes a transition without ever blocking the state machine.
func (s *Session) report(from, to State, err error) {
	if s.cfg.Reports == nil {
		return
	}
	t := Transition{
		Family:   s.Family(),
		Device:   s.Identity(),
		From:     from,
		To:       to,
		Err:      err,
		Attempts: s.attempts.Load(),
		At:       time.Now(),
	}
	select {
	case s.cfg.Reports <- t:
	default:
		s.dropped.Add(1)
	}
}

func (s *Session) transition(to State, err error) {
	from := State(s.state.Swap(int32(to)))
	fields := logrus.Fields{
		"family": s.Family().String(),
		"from":   from.String(),
		"to":     to.String(),
	}
	if err != nil {
		fields["error"] = err
	}
	s.logger.WithFields(fields).Debug("Session state transition")
	s.report(from, to, err)
}

// Run executes the state machine until ctx is cancelled (returns nil) or
// the session fails on a non-retryable condition (returns the cause).
func (s *Session) Run(ctx context.Context) error {
	var failure error
	for ctx.Err() == nil {
		switch s.State() {
		case StateDiscovering:
			dev, ok := s.awaitDevice(ctx)
			if !ok {
				return nil
			}
			s.setIdentity(dev)
			s.logger.WithFields(logrus.Fields{
				"family":  dev.Family.String(),
				"name":    dev.Name,
				"address": dev.Address,
			}).Info("Device discovered")
			s.transition(StateConnecting, nil)

		case StateConnecting, StateSubscribing, StateStreaming:
			err := s.runConnection(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if transport.IsFatal(err) {
				failure = err
				s.transition(StateFailed, err)
				continue
			}
			s.transition(StateDisconnected, err)

		case StateDisconnected:
			if !s.awaitBackoff(ctx) {
				return nil
			}
			s.attempts.Add(1)
			s.transition(StateConnecting, nil)

		case StateFailed:
			s.logger.WithFields(logrus.Fields{
				"family": s.Family().String(),
				"error":  failure,
			}).Error("Session failed on non-retryable condition")
			return failure
		}
	}
	return nil
}

// awaitDevice blocks in StateDiscovering until a matching advertisement
// arrives, emitting a liveness report every SearchingInterval.
func (s *Session) awaitDevice(ctx context.Context) (metric.DeviceIdentity, bool) {
	ticker := time.NewTicker(s.cfg.SearchingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return metric.DeviceIdentity{}, false
		case dev, ok := <-s.cfg.Advertisements:
			if !ok {
				return metric.DeviceIdentity{}, false
			}
			return dev, true
		case <-ticker.C:
			s.logger.WithField("family", s.Family().String()).Info("Still searching for device...")
			s.report(StateDiscovering, StateDiscovering, nil)
		}
	}
}

// awaitBackoff sleeps for the next backoff delay. Returns false if ctx
// was cancelled while waiting.
func (s *Session) awaitBackoff(ctx context.Context) bool {
	delay := s.boff.NextBackOff()
	s.logger.WithFields(logrus.Fields{
		"family":   s.Family().String(),
		"delay":    delay,
		"attempts": s.attempts.Load() + 1,
	}).Info("Reconnecting after backoff")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runConnection performs one Connecting -> Subscribing -> Streaming pass
// and returns the error that ended it. The connection is always released
// before returning.
func (s *Session) runConnection(ctx context.Context) error {
	dev := s.Identity()

	connCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.cfg.Transport.Connect(connCtx, dev.Address)
	cancel()
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"family":  dev.Family.String(),
			"address": dev.Address,
			"error":   err,
		}).Warn("Connection attempt failed")
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, transport.ErrNotConnected) {
			s.logger.WithField("error", closeErr).Debug("Connection close reported error")
		}
	}()

	s.transition(StateSubscribing, nil)
	frames, err := s.subscribe(conn)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"family": dev.Family.String(),
			"error":  err,
		}).Warn("Subscription failed")
		return err
	}
	if err := s.cfg.Profile.Setup(conn); err != nil {
		return fmt.Errorf("device setup: %w", err)
	}

	s.transition(StateStreaming, nil)
	s.boff.Reset()
	s.logger.WithFields(logrus.Fields{
		"family":  dev.Family.String(),
		"name":    dev.Name,
		"address": dev.Address,
	}).Info("Streaming metrics")

	return s.stream(ctx, conn, frames)
}

// subscribe enables notifications and returns the channel the handler
// feeds. The handler blocks when the session cannot keep up, releasing
// only when the connection goes away.
func (s *Session) subscribe(conn transport.Conn) (<-chan rawFrame, error) {
	frames := make(chan rawFrame, frameBuffer)
	disconnected := conn.Disconnected()
	family := s.Family()
	err := conn.Subscribe(s.cfg.Profile.NotifyCharacteristic(), func(data []byte) {
		f := rawFrame{data: append([]byte(nil), data...), at: time.Now()}
		if s.cfg.Tap != nil {
			s.cfg.Tap.Capture(family, f.data, f.at)
		}
		select {
		case frames <- f:
		case <-disconnected:
		}
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// stream decodes frames and publishes events while StateStreaming. A
// decode failure drops the single sample and continues; a transport
// disconnect ends the pass.
func (s *Session) stream(ctx context.Context, conn transport.Conn, frames <-chan rawFrame) error {
	var keepAlive <-chan time.Time
	if interval := s.cfg.Profile.KeepAliveInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Disconnected():
			return transport.ErrNotConnected
		case f := <-frames:
			if err := s.emit(ctx, f); err != nil {
				return nil // only fails on cancellation
			}
		case <-keepAlive:
			if err := s.cfg.Profile.KeepAlive(conn); err != nil {
				if errors.Is(err, transport.ErrNotConnected) || transport.IsFatal(err) {
					return err
				}
				s.logger.WithFields(logrus.Fields{
					"family": s.Family().String(),
					"error":  err,
				}).Warn("Keep-alive failed")
			}
		}
	}
}

// emit decodes one frame and publishes the event, clamping timestamps so
// captured_at never decreases for this device.
func (s *Session) emit(ctx context.Context, f rawFrame) error {
	if f.at.Before(s.lastStamp) {
		f.at = s.lastStamp
	}
	ev, err := s.cfg.Profile.Decode(s.Identity(), f.data, f.at)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.WithFields(logrus.Fields{
			"family": s.Family().String(),
			"error":  err,
			"total":  s.decodeErrors.Load(),
		}).Debug("Dropped undecodable notification")
		return nil
	}
	s.lastStamp = f.at
	return s.cfg.Bus.Publish(ctx, ev)
}
