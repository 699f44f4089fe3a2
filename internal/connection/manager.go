package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/troika-tech/creditsync/internal/clock"
	"github.com/troika-tech/creditsync/internal/heartbeat"
	"github.com/troika-tech/creditsync/internal/router"
	"github.com/troika-tech/creditsync/internal/version"
)

// Manager owns the connection lifecycle of one subscription.
type Manager interface {
	Subscription

	// Connect starts the first dial. It only acts in StateIdle and never
	// dials when the subscriber id is empty.
	Connect()

	// SetCallback replaces the host callback.
	SetCallback(fn router.UpdateFunc)

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// StateObserver is told about every change of the public status. It runs on
// whichever goroutine caused the change and must not block. Calls from
// different goroutines are not ordered; each (old, new) pair is consistent.
type StateObserver func(old, new Status)

// Option configures a Manager.
type Option func(*manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the gorilla-backed dialer.
func WithDialer(d Dialer) Option {
	return func(m *manager) {
		m.dialer = d
	}
}

// WithClock replaces the clock driving backoff and heartbeat timers.
func WithClock(c clock.Clock) Option {
	return func(m *manager) {
		m.clock = c
	}
}

// WithStateObserver registers a status change observer.
func WithStateObserver(fn StateObserver) Option {
	return func(m *manager) {
		m.observer = fn
	}
}

// manager implements the Manager interface.
//
// Every dial bumps epoch. Socket goroutines and timers remember the epoch
// they were started in and give up as soon as it no longer matches, which
// keeps at most one socket live per manager.
//
// The read goroutine holds dispatchMu from the epoch check until the host
// callback returns. Disconnect and Reconnect take it once after bumping the
// epoch, so no callback starts after they return. A call made from inside the
// callback skips that barrier, which lets a callback disconnect its own
// subscription.
type manager struct {
	cfg          ManagerConfig
	subscriberID string
	logger       *slog.Logger
	dialer       Dialer
	clock        clock.Clock
	router       *router.Router
	heartbeat    *heartbeat.Heartbeat
	observer     StateObserver

	dispatchMu sync.Mutex

	mu         sync.Mutex
	state      State
	attempt    int
	lastErr    string
	epoch      uint64
	connID     string
	conn       Conn
	cancelDial context.CancelFunc
	retryTimer clock.Timer
	lastRecv   time.Time
	dispatcher uint64 // Goroutine inside a callback, 0 if none

	// Stats
	dials    int64
	opens    int64
	abnormal int64
}

// NewManager creates a Manager in StateIdle. Nothing is dialed until Connect.
func NewManager(cfg ManagerConfig, subscriberID string, onUpdate router.UpdateFunc, opts ...Option) Manager {
	defaults := DefaultManagerConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.Backoff.MaxAttempts <= 0 || cfg.Backoff.Base <= 0 || cfg.Backoff.Max <= 0 {
		cfg.Backoff = defaults.Backoff
	}
	if cfg.Client == (ClientConfig{}) {
		cfg.Client = defaults.Client
	}

	m := &manager{
		cfg:          cfg,
		subscriberID: subscriberID,
		logger:       slog.Default(),
		clock:        clock.Real(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With("subscriber_id", subscriberID)
	if m.dialer == nil {
		m.dialer = NewDialer(cfg.Client, m.logger)
	}
	m.router = router.New(onUpdate, m.logger)
	m.heartbeat = heartbeat.New(cfg.HeartbeatInterval, m.ping, m.clock, m.logger)

	return m
}

// Connect starts the first dial.
func (m *manager) Connect() {
	m.mu.Lock()
	before := m.statusLocked()
	m.connectLocked()
	after := m.statusLocked()
	m.mu.Unlock()

	m.notify(before, after)
}

// Disconnect tears everything down and leaves the manager in StateClosed.
func (m *manager) Disconnect() {
	m.mu.Lock()
	before := m.statusLocked()
	conn := m.teardownLocked()
	m.state = StateClosed
	m.attempt = 0
	after := m.statusLocked()
	dispatcher := m.dispatcher
	m.mu.Unlock()

	if conn != nil {
		conn.Close(CloseNormal, "client disconnect")
	}
	m.awaitDispatch(dispatcher)
	if before.State != StateClosed {
		m.logger.Info("credit stream disconnected", "from", before.State)
	}
	m.notify(before, after)
}

// Reconnect resets the retry budget and dials immediately. It is a no-op
// while a connection is being established or is open.
func (m *manager) Reconnect() {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	before := m.statusLocked()
	conn := m.teardownLocked()
	m.attempt = 0
	m.lastErr = ""
	m.state = StateIdle
	dispatcher := m.dispatcher
	m.connectLocked()
	after := m.statusLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close(CloseNormal, "client reconnect")
	}
	m.awaitDispatch(dispatcher)
	m.logger.Info("manual reconnect", "from", before.State)
	m.notify(before, after)
}

// Connected reports whether the stream is open.
func (m *manager) Connected() bool {
	return m.Status().Connected
}

// Reconnecting reports whether a retry is pending.
func (m *manager) Reconnecting() bool {
	return m.Status().Reconnecting
}

// Err returns the last connection error, or "" if none.
func (m *manager) Err() string {
	return m.Status().Error
}

// Status returns a consistent snapshot of the public fields.
func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// SetCallback replaces the host callback.
func (m *manager) SetCallback(fn router.UpdateFunc) {
	m.router.SetCallback(fn)
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	sent, failed := m.heartbeat.Stats()

	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		State:          m.state,
		Attempt:        m.attempt,
		Dials:          m.dials,
		Opens:          m.opens,
		AbnormalCloses: m.abnormal,
		PingsSent:      sent,
		PingsFailed:    failed,
		ConnID:         m.connID,
		Router:         m.router.Stats(),
	}
}

func (m *manager) statusLocked() Status {
	return Status{
		State:        m.state,
		Connected:    m.state == StateOpen,
		Reconnecting: m.state == StateReconnecting,
		Error:        m.lastErr,
		Attempt:      m.attempt,
	}
}

func (m *manager) connectLocked() {
	if m.subscriberID == "" {
		m.logger.Debug("no subscriber id, skipping connection")
		return
	}
	if m.state != StateIdle {
		return
	}
	m.dialLocked()
}

// dialLocked enters StateConnecting under a fresh epoch and starts the dial.
func (m *manager) dialLocked() {
	m.epoch++
	epoch := m.epoch
	m.connID = uuid.NewString()
	connID := m.connID
	m.state = StateConnecting
	m.dials++

	rawURL, err := BuildURL(m.cfg.WSBase, m.cfg.Path, m.subscriberID, m.cfg.Token)
	if err != nil {
		m.logger.Error("failed to build websocket url", "error", err)
		m.abnormalLocked(err)
		return
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	m.logger.Info("connecting to credit stream",
		"conn_id", connID,
		"attempt", m.attempt,
	)

	go m.run(ctx, epoch, connID, rawURL, header)
}

// run dials, promotes the socket to StateOpen and then reads until it fails.
func (m *manager) run(ctx context.Context, epoch uint64, connID, rawURL string, header http.Header) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("credit stream goroutine panicked", "conn_id", connID, "panic", p)
			m.socketClosed(epoch, connID, fmt.Errorf("panic: %v", p))
		}
	}()

	conn, err := m.dialer.Dial(ctx, rawURL, header)

	m.mu.Lock()
	if epoch != m.epoch || m.state != StateConnecting {
		// Disconnect or Reconnect happened while dialing.
		m.mu.Unlock()
		if conn != nil {
			m.logger.Info("closing superseded connection", "conn_id", connID)
			conn.Close(CloseNormal, "superseded")
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	before := m.statusLocked()
	if err != nil {
		m.logger.Warn("failed to connect", "conn_id", connID, "error", err)
		m.abnormalLocked(err)
		after := m.statusLocked()
		m.mu.Unlock()
		m.notify(before, after)
		return
	}

	m.conn = conn
	m.state = StateOpen
	m.attempt = 0
	m.lastErr = ""
	m.lastRecv = m.clock.Now()
	m.opens++
	m.heartbeat.Start()
	after := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("credit stream connected", "conn_id", connID)
	m.notify(before, after)

	m.readLoop(epoch, connID, conn)
}

// readLoop delivers frames in arrival order until the socket fails.
func (m *manager) readLoop(epoch uint64, connID string, conn Conn) {
	gid := curGoroutineID()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.socketClosed(epoch, connID, err)
			return
		}
		if !m.deliver(epoch, gid, connID, data) {
			return
		}
	}
}

// deliver routes one frame if epoch is still live. gid identifies the
// calling read goroutine.
func (m *manager) deliver(epoch, gid uint64, connID string, data []byte) bool {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	if !m.touch(epoch, gid) {
		return false
	}
	defer func() {
		m.mu.Lock()
		m.dispatcher = 0
		m.mu.Unlock()
	}()
	m.router.Route(connID, data)
	return true
}

// awaitDispatch waits for a callback that passed its epoch check before the
// caller invalidated the epoch. dispatcher is the goroutine that was inside
// a callback at that time; a call from that goroutine returns immediately.
func (m *manager) awaitDispatch(dispatcher uint64) {
	if dispatcher != 0 && dispatcher == curGoroutineID() {
		return
	}
	m.dispatchMu.Lock()
	m.dispatchMu.Unlock()
}

// touch records inbound traffic and reports whether epoch is still live. A
// live epoch marks gid as the dispatching goroutine.
func (m *manager) touch(epoch, gid uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.state != StateOpen {
		return false
	}
	m.lastRecv = m.clock.Now()
	m.dispatcher = gid
	return true
}

// socketClosed handles the end of a connection epoch.
func (m *manager) socketClosed(epoch uint64, connID string, err error) {
	m.mu.Lock()
	if epoch != m.epoch || (m.state != StateOpen && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}

	before := m.statusLocked()
	conn := m.conn
	m.conn = nil
	m.heartbeat.Stop()

	code := closeCode(err)
	if code == CloseNormal {
		m.state = StateClosed
		m.logger.Info("credit stream closed by server", "conn_id", connID)
	} else {
		m.logger.Warn("credit stream dropped", "conn_id", connID, "code", code, "error", err)
		m.abnormalLocked(err)
	}
	after := m.statusLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close(CloseNormal, "")
	}
	m.notify(before, after)
}

// abnormalLocked records err and either schedules the next retry or gives up.
func (m *manager) abnormalLocked(err error) {
	m.abnormal++
	m.heartbeat.Stop()
	if err != nil {
		m.lastErr = err.Error()
	}

	delay, berr := m.cfg.Backoff.Delay(m.attempt)
	if berr != nil {
		m.state = StateFailed
		m.lastErr = MaxAttemptsMessage
		m.logger.Error("giving up on credit stream",
			"attempts", m.attempt,
			"last_error", err,
		)
		return
	}

	m.state = StateReconnecting
	epoch := m.epoch
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(epoch) })

	m.logger.Info("scheduling reconnect",
		"delay", delay,
		"attempt", m.attempt+1,
		"max_attempts", m.cfg.Backoff.MaxAttempts,
	)
}

// retry fires when the backoff delay elapses.
func (m *manager) retry(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	before := m.statusLocked()
	m.retryTimer = nil
	m.attempt++
	m.dialLocked()
	after := m.statusLocked()
	m.mu.Unlock()

	m.notify(before, after)
}

// teardownLocked invalidates the current epoch, cancels every timer and the
// pending dial, and hands back the live socket for the caller to close.
func (m *manager) teardownLocked() Conn {
	m.epoch++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.heartbeat.Stop()

	conn := m.conn
	m.conn = nil
	return conn
}

// ping is the heartbeat send function.
func (m *manager) ping() error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn

	if m.cfg.PongTimeout > 0 {
		if silence := m.clock.Now().Sub(m.lastRecv); silence > m.cfg.PongTimeout {
			before := m.statusLocked()
			m.conn = nil
			m.logger.Warn("no inbound frames, forcing reconnect",
				"conn_id", m.connID,
				"silence", silence,
			)
			m.abnormalLocked(ErrHeartbeatTimeout)
			after := m.statusLocked()
			m.mu.Unlock()

			conn.Close(websocket.CloseGoingAway, "heartbeat timeout")
			m.notify(before, after)
			return ErrHeartbeatTimeout
		}
	}
	m.mu.Unlock()

	return conn.WriteMessage(router.PingFrame())
}

func (m *manager) notify(before, after Status) {
	if m.observer == nil || before == after {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("state observer panicked", "panic", p)
		}
	}()
	m.observer(before, after)
}

// closeCode extracts the websocket close code; anything that is not a close
// frame counts as an abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
