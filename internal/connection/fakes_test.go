package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/troika-tech/creditsync/internal/clock"
	"github.com/troika-tech/creditsync/internal/router"
)

var errConnClosed = errors.New("use of closed network connection")

type fakeRead struct {
	data []byte
	err  error
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	inbound chan fakeRead
	closed  chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeCode int
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeRead, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-c.inbound:
		return r.data, r.err
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// deliver queues a server frame.
func (c *fakeConn) deliver(frame string) {
	c.inbound <- fakeRead{data: []byte(frame)}
}

// drop simulates the server or network ending the socket with code.
func (c *fakeConn) drop(code int) {
	c.inbound <- fakeRead{err: &websocket.CloseError{Code: code}}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// fakeDialer records dials and hands out fakeConns.
type fakeDialer struct {
	mu        sync.Mutex
	urls      []string
	headers   []http.Header
	conns     []*fakeConn
	failFirst int   // number of initial dials that fail
	failAll   bool  // every dial fails
	failErr   error // error returned by failing dials
	release   chan struct{}
	ignoreCtx bool // keep dialing after the context is cancelled
	panics    bool
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	d.headers = append(d.headers, header.Clone())
	n := len(d.urls)
	release := d.release
	d.mu.Unlock()

	if d.panics {
		panic("dialer exploded")
	}

	if release != nil {
		if d.ignoreCtx {
			<-release
		} else {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if d.failAll || n <= d.failFirst {
		err := d.failErr
		if err == nil {
			err = errors.New("dial tcp: connection refused")
		}
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// eventLog collects callback invocations from the read goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []router.CreditUpdateEvent
}

func (l *eventLog) record(e router.CreditUpdateEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []router.CreditUpdateEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]router.CreditUpdateEvent(nil), l.events...)
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func testConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.WSBase = "wss://calling-api.example.com"
	cfg.Token = "tok en"
	return cfg
}

func newTestManager(t *testing.T, cfg ManagerConfig, subscriberID string, d *fakeDialer, opts ...Option) (*manager, *clock.Manual, *eventLog) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	log := &eventLog{}
	all := append([]Option{WithDialer(d), WithClock(clk)}, opts...)
	m := NewManager(cfg, subscriberID, log.record, all...).(*manager)
	t.Cleanup(m.Disconnect)
	return m, clk, log
}

func waitState(t *testing.T, m *manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().State == want
	}, waitFor, tick, "state never became %s (now %s)", want, m.Status().State)
}

// waitDials waits until n dials happened and the manager settled into want.
func waitDials(t *testing.T, m *manager, d *fakeDialer, n int, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.dialCount() == n && m.Status().State == want
	}, waitFor, tick, "want %d dials in %s, got %d in %s", n, want, d.dialCount(), m.Status().State)
}
