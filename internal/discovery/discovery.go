// Package discovery runs the shared BLE scan and routes matching
// advertisements to the session waiting for each device family. One scan
// serves all sessions because the adapter supports a single concurrent
// scan.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/transport"
)

// scanRestartDelay separates scan attempts after a transport error.
const scanRestartDelay = 2 * time.Second

// matcher pairs a family's match rule with the channel its session
// listens on.
type matcher struct {
	profile profile.Profile
	out     chan metric.DeviceIdentity
}

// Scanner discovers devices for registered families. Advertisements are
// deduplicated by address so a chatty peripheral is reported once per
// registration.
type Scanner struct {
	tr     transport.Transport
	logger *logrus.Logger

	mu       sync.Mutex
	matchers []*matcher

	// seen maps family|address -> generation; bumping the generation on
	// re-registration lets a restarted session rediscover its device. The
	// key includes the family so an advertisement matching two families
	// is reported to both.
	seen *hashmap.Map[string, uint64]
	gen  uint64
}

// NewScanner creates a scanner over the given transport.
func NewScanner(tr transport.Transport, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		tr:     tr,
		logger: logger,
		seen:   hashmap.New[string, uint64](),
	}
}

// Register adds a family to discover and returns the channel matching
// identities arrive on. Re-registering a family (after a session restart)
// replaces the previous registration and clears the dedup state so the
// device is reported again.
func (s *Scanner) Register(p profile.Profile) <-chan metric.DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(chan metric.DeviceIdentity, 1)
	m := &matcher{profile: p, out: out}
	for i, existing := range s.matchers {
		if existing.profile.Family() == p.Family() {
			s.matchers[i] = m
			s.gen++
			return out
		}
	}
	s.matchers = append(s.matchers, m)
	return out
}

// Run scans until ctx is done, restarting the scan after transport
// errors. Adapter-level failures are returned so the caller can stop.
func (s *Scanner) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		// Duplicates are allowed so a re-registered family sees its
		// device again; onAdvertisement dedups per generation.
		err := s.tr.Scan(ctx, true, s.onAdvertisement)
		if err == nil {
			continue
		}
		if transport.IsFatal(err) {
			return err
		}
		s.logger.WithField("error", err).Warn("Scan interrupted, restarting")
		select {
		case <-ctx.Done():
		case <-time.After(scanRestartDelay):
		}
	}
	return nil
}

func (s *Scanner) onAdvertisement(adv transport.Advertisement) {
	s.mu.Lock()
	matchers := make([]*matcher, len(s.matchers))
	copy(matchers, s.matchers)
	gen := s.gen
	s.mu.Unlock()

	for _, m := range matchers {
		if !m.profile.Match(adv) {
			continue
		}
		key := m.profile.Family().String() + "|" + adv.Addr()
		if prev, ok := s.seen.Get(key); ok && prev == gen {
			continue
		}
		s.seen.Set(key, gen)

		dev := metric.DeviceIdentity{
			Family:  m.profile.Family(),
			Address: adv.Addr(),
			Name:    adv.LocalName(),
		}
		s.logger.WithFields(logrus.Fields{
			"family":  dev.Family.String(),
			"name":    dev.Name,
			"address": dev.Address,
			"rssi":    adv.RSSI(),
		}).Debug("Matching advertisement")

		// The channel holds one identity; a session mid-reconnect picks
		// it up when it returns to discovering.
		select {
		case m.out <- dev:
		default:
		}
	}
}
