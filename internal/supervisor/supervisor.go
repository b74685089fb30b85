// Package supervisor owns the set of device sessions: it runs the shared
// discovery scan, logs session transitions, and recreates any session
// that reaches a terminal failure so one broken device never stops the
// other from being served.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/zonelog/internal/bus"
	"github.com/srg/zonelog/internal/discovery"
	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/session"
	"github.com/srg/zonelog/internal/trace"
	"github.com/srg/zonelog/internal/transport"
)

// reportBuffer sizes the transition report channel. Reports are dropped
// by sessions when it is full, so this only affects logging fidelity.
const reportBuffer = 64

// DefaultRestartDelay separates a terminal session failure from the
// replacement session's first discovery attempt.
const DefaultRestartDelay = 5 * time.Second

// ProfileFactory builds a fresh profile for a (re)created session.
// Profiles carry per-session state and must not be reused.
type ProfileFactory func() profile.Profile

// Config wires the supervisor.
type Config struct {
	Transport transport.Transport
	Bus       *bus.Bus
	Logger    *logrus.Logger
	Tap       *trace.FrameTap

	// Families lists the device families to serve, in status display
	// order.
	Families []ProfileFactory

	SearchingInterval time.Duration
	ConnectTimeout    time.Duration
	Backoff           session.BackoffConfig

	// RestartDelay is the pause before a terminally failed session is
	// replaced. Zero means DefaultRestartDelay.
	RestartDelay time.Duration
}

// DeviceStatus is one row of the supervisor's status snapshot.
type DeviceStatus struct {
	Family   metric.Family
	Device   metric.DeviceIdentity
	State    session.State
	Attempts uint64
}

// Supervisor runs and heals the device sessions.
type Supervisor struct {
	cfg     Config
	logger  *logrus.Logger
	scanner *discovery.Scanner
	reports chan session.Transition

	mu       sync.Mutex
	sessions *orderedmap.OrderedMap[metric.Family, *session.Session]
}

// New creates a supervisor. Run does the work.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger,
		scanner:  discovery.NewScanner(cfg.Transport, cfg.Logger),
		reports:  make(chan session.Transition, reportBuffer),
		sessions: orderedmap.New[metric.Family, *session.Session](),
	}
}

// Status returns a snapshot of every session in registration order.
func (s *Supervisor) Status() []DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceStatus, 0, s.sessions.Len())
	for pair := s.sessions.Oldest(); pair != nil; pair = pair.Next() {
		sess := pair.Value
		out = append(out, DeviceStatus{
			Family:   pair.Key,
			Device:   sess.Identity(),
			State:    sess.State(),
			Attempts: sess.Attempts(),
		})
	}
	return out
}

func (s *Supervisor) newSession(factory ProfileFactory) *session.Session {
	p := factory()
	sess := session.New(session.Config{
		Profile:           p,
		Transport:         s.cfg.Transport,
		Bus:               s.cfg.Bus,
		Logger:            s.logger,
		Advertisements:    s.scanner.Register(p),
		Reports:           s.reports,
		Tap:               s.cfg.Tap,
		SearchingInterval: s.cfg.SearchingInterval,
		ConnectTimeout:    s.cfg.ConnectTimeout,
		Backoff:           s.cfg.Backoff,
	})
	s.mu.Lock()
	s.sessions.Set(p.Family(), sess)
	s.mu.Unlock()
	return sess
}

// Run starts discovery and one session per family, then supervises until
// ctx is cancelled. A session that returns with an error is replaced with
// a fresh one after a short delay; the other session is unaffected.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.scanner.Run(ctx); err != nil {
			s.logger.WithField("error", err).Error("Discovery scan stopped")
		}
	}()

	// Initial sessions are created here, not in the goroutines, so the
	// status snapshot lists families in registration order.
	for _, factory := range s.cfg.Families {
		sess := s.newSession(factory)
		wg.Add(1)
		go s.runSession(ctx, &wg, factory, sess)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consumeReports(ctx)
	}()

	wg.Wait()

	// All producers are done; release the consumer.
	s.cfg.Bus.Close()
	return ctx.Err()
}

// runSession runs one family's session, recreating it after terminal
// failures until ctx is cancelled.
func (s *Supervisor) runSession(ctx context.Context, wg *sync.WaitGroup, factory ProfileFactory, sess *session.Session) {
	defer wg.Done()
	for ctx.Err() == nil {
		err := sess.Run(ctx)
		if err == nil {
			return // clean shutdown
		}
		s.logger.WithFields(logrus.Fields{
			"family": sess.Family().String(),
			"error":  err,
		}).Error("Session terminated, recreating after delay")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
		}
		sess = s.newSession(factory)
	}
}

// consumeReports logs transition reports for observability. Session
// machinery never depends on this loop keeping up.
func (s *Supervisor) consumeReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.reports:
			fields := logrus.Fields{
				"family": t.Family.String(),
				"from":   t.From.String(),
				"to":     t.To.String(),
			}
			if t.Device.Address != "" {
				fields["address"] = t.Device.Address
			}
			if t.Attempts > 0 {
				fields["attempts"] = t.Attempts
			}
			switch {
			case t.To == session.StateFailed:
				fields["error"] = t.Err
				s.logger.WithFields(fields).Error("Device session failed")
			case t.Err != nil:
				fields["error"] = t.Err
				s.logger.WithFields(fields).Warn("Device state changed")
			case t.From == session.StateDiscovering && t.To == session.StateDiscovering:
				s.logger.WithFields(fields).Info("Still searching")
			default:
				s.logger.WithFields(fields).Info("Device state changed")
			}
		}
	}
}
