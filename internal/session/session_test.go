package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/zonelog/internal/bus"
	"github.com/srg/zonelog/internal/metric"
	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/protocol"
	"github.com/srg/zonelog/internal/session"
	"github.com/srg/zonelog/internal/testutils"
	"github.com/srg/zonelog/internal/transport"
)

// harness wires one session to fakes with test-friendly timings.
type harness struct {
	tr      *testutils.FakeTransport
	bus     *bus.Bus
	advs    chan metric.DeviceIdentity
	reports chan session.Transition
	sess    *session.Session
	done    chan error
	stopped chan struct{}
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, p profile.Profile) *harness {
	t.Helper()
	h := &harness{
		tr:      testutils.NewFakeTransport(),
		bus:     bus.New(64),
		advs:    make(chan metric.DeviceIdentity, 1),
		reports: make(chan session.Transition, 256),
		done:    make(chan error, 1),
		stopped: make(chan struct{}),
	}
	h.sess = session.New(session.Config{
		Profile:           p,
		Transport:         h.tr,
		Bus:               h.bus,
		Advertisements:    h.advs,
		Reports:           h.reports,
		SearchingInterval: 50 * time.Millisecond,
		ConnectTimeout:    time.Second,
		Backoff: session.BackoffConfig{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Multiplier:      1.5,
			Jitter:          0,
		},
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.sess.Run(ctx)
		close(h.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.stopped:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
}

func (h *harness) discover(addr string) {
	h.advs <- metric.DeviceIdentity{
		Family:  h.sess.Family(),
		Address: addr,
		Name:    "Test Device",
	}
}

func waitForState(t *testing.T, sess *session.Session, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck in %s", want, sess.State())
}

// drainTransitions empties the report channel into a slice.
func drainTransitions(h *harness) []session.Transition {
	var out []session.Transition
	for {
		select {
		case tr := <-h.reports:
			out = append(out, tr)
		default:
			return out
		}
	}
}

func TestSessionStreamsTreadmillMetrics(t *testing.T) {
	h := newHarness(t, profile.NewTreadmill(0))
	h.start(t)
	h.discover("AA:BB:CC:DD:EE:FF")
	waitForState(t, h.sess, session.StateStreaming)

	conn := h.tr.LastConn()
	require.NotNil(t, conn)

	// The vendor handshake must have been written during setup.
	written := conn.Written(protocol.TreadmillCommandUUID)
	require.Len(t, written, len(protocol.TreadmillInitSequence()))

	before := time.Now()
	payload := protocol.EncodeTreadmill(metric.TreadmillSample{SpeedKPH: 7.5, InclinePercent: 2.0, DistanceM: 1234})
	require.True(t, conn.Notify(protocol.TreadmillNotifyUUID, payload))

	select {
	case ev := <-h.bus.Events():
		require.NotNil(t, ev.Treadmill)
		assert.InDelta(t, 7.5, ev.Treadmill.SpeedKPH, 0.001)
		assert.InDelta(t, 2.0, ev.Treadmill.InclinePercent, 0.001)
		assert.InDelta(t, 1234, ev.Treadmill.DistanceM, 0.001)
		assert.False(t, ev.Treadmill.CapturedAt.Before(before), "captured_at must be the injection time")
		assert.Equal(t, metric.FamilyTreadmill, ev.Device.Family)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", ev.Device.Address)
	case <-time.After(time.Second):
		t.Fatal("no event on the bus")
	}
}

func TestSessionStreamsHeartRateMetrics(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")
	waitForState(t, h.sess, session.StateStreaming)

	conn := h.tr.LastConn()
	require.NotNil(t, conn)

	// flags 0x01: 16-bit BPM, no battery
	require.True(t, conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x01, 0x8e, 0x00}))

	select {
	case ev := <-h.bus.Events():
		require.NotNil(t, ev.HeartRate)
		assert.Equal(t, uint16(142), ev.HeartRate.BPM)
		assert.Nil(t, ev.HeartRate.BatteryPercent)
	case <-time.After(time.Second):
		t.Fatal("no event on the bus")
	}
}

func TestSessionPreservesNotificationOrder(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")
	waitForState(t, h.sess, session.StateStreaming)

	conn := h.tr.LastConn()
	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, uint8(60 + i)})
		}
	}()

	for i := 0; i < n; i++ {
		select {
		case ev := <-h.bus.Events():
			require.NotNil(t, ev.HeartRate)
			assert.Equal(t, uint16(60+i), ev.HeartRate.BPM, "event %d out of order", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSessionDisconnectCycle(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")
	waitForState(t, h.sess, session.StateStreaming)
	drainTransitions(h)

	conn := h.tr.LastConn()
	conn.Drop()
	// Wait for the session to observe the drop before waiting for the
	// recovery, or the pre-drop Streaming state satisfies the wait.
	waitForState(t, h.sess, session.StateDisconnected)
	waitForState(t, h.sess, session.StateStreaming)

	// The machine must have passed Disconnected then Connecting on its
	// way back to Streaming.
	trs := drainTransitions(h)
	var states []session.State
	for _, tr := range trs {
		states = append(states, tr.To)
	}
	assert.Contains(t, states, session.StateDisconnected)
	assert.Contains(t, states, session.StateConnecting)
	assert.Equal(t, uint64(1), h.sess.Attempts())

	// A notification on the dead connection must not reach the bus.
	conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, 99})
	// The live connection still works.
	live := h.tr.LastConn()
	require.NotSame(t, conn, live)
	require.True(t, live.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, 80}))

	select {
	case ev := <-h.bus.Events():
		require.NotNil(t, ev.HeartRate)
		assert.Equal(t, uint16(80), ev.HeartRate.BPM, "event from dead connection leaked")
	case <-time.After(time.Second):
		t.Fatal("no event from the new connection")
	}
}

func TestSessionRecoversFromThreeConsecutiveDisconnects(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")

	for i := 0; i < 3; i++ {
		waitForState(t, h.sess, session.StateStreaming)
		h.tr.LastConn().Drop()
		waitForState(t, h.sess, session.StateDisconnected)
	}
	waitForState(t, h.sess, session.StateStreaming)
	assert.Equal(t, uint64(3), h.sess.Attempts())
}

func TestSessionRetriesFailedConnects(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.tr.QueueConnectErr(errors.New("connection refused"))
	h.tr.QueueConnectErr(errors.New("connection refused"))
	h.start(t)
	h.discover("11:22:33:44:55:66")

	// Two failures, then the default healthy conn.
	waitForState(t, h.sess, session.StateStreaming)
	assert.GreaterOrEqual(t, h.sess.Attempts(), uint64(2))
}

func TestSessionSubscribeFailureIsRetryable(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	bad := testutils.NewFakeConn()
	bad.SetSubscribeErr(errors.New("subscribe rejected"))
	h.tr.QueueConn(bad)
	h.start(t)
	h.discover("11:22:33:44:55:66")

	waitForState(t, h.sess, session.StateStreaming)
	assert.True(t, bad.Closed(), "failed connection must be released")
}

func TestSessionFailsOnAdapterError(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.tr.QueueConnectErr(transport.ErrAdapterUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.sess.Run(ctx) }()

	h.discover("11:22:33:44:55:66")
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrAdapterUnavailable)
		assert.Equal(t, session.StateFailed, h.sess.State())
	case <-time.After(2 * time.Second):
		t.Fatal("session did not fail")
	}
}

func TestSessionDropsUndecodableNotifications(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")
	waitForState(t, h.sess, session.StateStreaming)

	conn := h.tr.LastConn()
	conn.Notify(protocol.HeartRateMeasurementUUID, []byte{}) // truncated
	conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, 0x00})
	conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, 75})

	select {
	case ev := <-h.bus.Events():
		require.NotNil(t, ev.HeartRate)
		assert.Equal(t, uint16(75), ev.HeartRate.BPM, "corrupt packet leaked onto the bus")
	case <-time.After(time.Second):
		t.Fatal("valid packet after corrupt ones never arrived")
	}
	assert.Equal(t, session.StateStreaming, h.sess.State(), "corrupt packet must not tear down the session")
	assert.Equal(t, uint64(2), h.sess.DecodeErrors())
}

func TestSessionTimestampsAreMonotonic(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)
	h.discover("11:22:33:44:55:66")

	var last time.Time
	for round := 0; round < 3; round++ {
		waitForState(t, h.sess, session.StateStreaming)
		conn := h.tr.LastConn()
		require.True(t, conn.Notify(protocol.HeartRateMeasurementUUID, []byte{0x00, 70}))
		select {
		case ev := <-h.bus.Events():
			require.False(t, ev.CapturedAt().Before(last), "captured_at went backwards across reconnects")
			last = ev.CapturedAt()
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
		conn.Drop()
		waitForState(t, h.sess, session.StateDisconnected)
	}
}

func TestSessionStopsCleanlyOnCancel(t *testing.T) {
	h := newHarness(t, profile.NewTreadmill(0))
	h.start(t)
	h.discover("AA:BB:CC:DD:EE:FF")
	waitForState(t, h.sess, session.StateStreaming)
	conn := h.tr.LastConn()

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.True(t, conn.Closed(), "cancellation left the connection open")
}

func TestSessionReportsSearchingLiveness(t *testing.T) {
	h := newHarness(t, profile.NewHeartRate(0))
	h.start(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, tr := range drainTransitions(h) {
			if tr.From == session.StateDiscovering && tr.To == session.StateDiscovering {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no liveness report while discovering")
}
