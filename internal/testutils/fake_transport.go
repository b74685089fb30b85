package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/zonelog/internal/transport"
)

// FakeConn is a scripted peripheral connection. Tests push notifications
// with Notify and simulate link loss with Drop.
type FakeConn struct {
	mu           sync.Mutex
	handlers     map[string]func([]byte)
	written      map[string][][]byte
	reads        map[string][]byte
	subscribeErr error
	writeErr     error
	readErr      error

	closeOnce    sync.Once
	disconnected chan struct{}
	closed       bool
}

var _ transport.Conn = (*FakeConn)(nil)

// NewFakeConn creates a healthy connection with no scripted values.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		handlers:     make(map[string]func([]byte)),
		written:      make(map[string][][]byte),
		reads:        make(map[string][]byte),
		disconnected: make(chan struct{}),
	}
}

// SetSubscribeErr scripts the next Subscribe to fail.
func (c *FakeConn) SetSubscribeErr(err error) { c.mu.Lock(); c.subscribeErr = err; c.mu.Unlock() }

// SetWriteErr scripts WriteCommand failures.
func (c *FakeConn) SetWriteErr(err error) { c.mu.Lock(); c.writeErr = err; c.mu.Unlock() }

// SetReadValue scripts the value returned for reads of char.
func (c *FakeConn) SetReadValue(char string, data []byte) {
	c.mu.Lock()
	c.reads[char] = data
	c.mu.Unlock()
}

// SetReadErr scripts Read failures.
func (c *FakeConn) SetReadErr(err error) { c.mu.Lock(); c.readErr = err; c.mu.Unlock() }

func (c *FakeConn) Subscribe(char string, handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.handlers[char] = handler
	return nil
}

func (c *FakeConn) WriteCommand(char string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written[char] = append(c.written[char], append([]byte(nil), data...))
	return nil
}

func (c *FakeConn) Read(char string, _ time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	data, ok := c.reads[char]
	if !ok {
		return nil, transport.ErrCharacteristicNotFound
	}
	return append([]byte(nil), data...), nil
}

func (c *FakeConn) Disconnected() <-chan struct{} { return c.disconnected }

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.disconnected) })
	return nil
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drop simulates a transport-level disconnect.
func (c *FakeConn) Drop() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

// Notify delivers a raw notification to the subscriber of char, if any.
// Returns whether a handler was invoked.
func (c *FakeConn) Notify(char string, data []byte) bool {
	c.mu.Lock()
	handler := c.handlers[char]
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Written returns the packets written to char, in order.
func (c *FakeConn) Written(char string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written[char]))
	copy(out, c.written[char])
	return out
}

// FakeTransport is a scripted transport. Each Connect call pops the next
// scripted outcome; with nothing scripted it hands out a fresh healthy
// FakeConn. Scan replays the scripted advertisements and then blocks
// until the context ends.
type FakeTransport struct {
	mu       sync.Mutex
	advs     []transport.Advertisement
	live     chan transport.Advertisement
	outcomes []connectOutcome
	conns    []*FakeConn
	scanErr  error

	// ConnWired, when set, is called with every successfully connected
	// FakeConn before it is returned (to pre-script reads etc).
	ConnWired func(*FakeConn)
}

type connectOutcome struct {
	conn *FakeConn
	err  error
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates an empty transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{live: make(chan transport.Advertisement, 16)}
}

// AddAdvertisement scripts an advertisement for Scan to replay.
func (t *FakeTransport) AddAdvertisement(adv transport.Advertisement) {
	t.mu.Lock()
	t.advs = append(t.advs, adv)
	t.mu.Unlock()
}

// QueueConn scripts a successful Connect returning conn.
func (t *FakeTransport) QueueConn(conn *FakeConn) {
	t.mu.Lock()
	t.outcomes = append(t.outcomes, connectOutcome{conn: conn})
	t.mu.Unlock()
}

// QueueConnectErr scripts a failing Connect.
func (t *FakeTransport) QueueConnectErr(err error) {
	t.mu.Lock()
	t.outcomes = append(t.outcomes, connectOutcome{err: err})
	t.mu.Unlock()
}

// SetScanErr makes Scan return err instead of blocking.
func (t *FakeTransport) SetScanErr(err error) {
	t.mu.Lock()
	t.scanErr = err
	t.mu.Unlock()
}

func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(transport.Advertisement)) error {
	t.mu.Lock()
	advs := make([]transport.Advertisement, len(t.advs))
	copy(advs, t.advs)
	scanErr := t.scanErr
	t.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range advs {
		handler(adv)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case adv := <-t.live:
			handler(adv)
		}
	}
}

// PushAdvertisement delivers an advertisement to an in-progress Scan.
// Unlike AddAdvertisement it is not replayed on later scan passes.
func (t *FakeTransport) PushAdvertisement(adv transport.Advertisement) {
	t.live <- adv
}

func (t *FakeTransport) Connect(ctx context.Context, _ string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	var outcome connectOutcome
	if len(t.outcomes) > 0 {
		outcome = t.outcomes[0]
		t.outcomes = t.outcomes[1:]
	} else {
		outcome = connectOutcome{conn: NewFakeConn()}
	}
	wired := t.ConnWired
	if outcome.conn != nil {
		t.conns = append(t.conns, outcome.conn)
	}
	t.mu.Unlock()

	if outcome.err != nil {
		return nil, outcome.err
	}
	if wired != nil {
		wired(outcome.conn)
	}
	return outcome.conn, nil
}

// Conns returns every connection handed out so far.
func (t *FakeTransport) Conns() []*FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FakeConn, len(t.conns))
	copy(out, t.conns)
	return out
}

// LastConn returns the most recent connection, or nil.
func (t *FakeTransport) LastConn() *FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// WaitForConns blocks until at least n connections were handed out or the
// timeout elapses. Returns whether the condition was met.
func (t *FakeTransport) WaitForConns(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		count := len(t.conns)
		t.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
