// Package heartbeat sends periodic keep-alive frames while a connection is open.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/troika-tech/creditsync/internal/clock"
)

// DefaultInterval is the keep-alive period used by the credit stream.
const DefaultInterval = 30 * time.Second

// Heartbeat calls a send function every interval between Start and Stop.
// Send runs without any Heartbeat lock held, so it may call Stop.
type Heartbeat struct {
	interval time.Duration
	send     func() error
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   clock.Timer
	sent    int64
	failed  int64
}

// New creates a stopped Heartbeat.
func New(interval time.Duration, send func() error, clk clock.Clock, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		interval: interval,
		send:     send,
		clock:    clk,
		logger:   logger,
	}
}

// Start begins sending. Starting a running heartbeat is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.gen++
	h.scheduleLocked(h.gen)
}

// Stop cancels the pending tick. It is safe to call from any state.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Running reports whether a tick is scheduled.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Stats returns the number of sent and failed keep-alives.
func (h *Heartbeat) Stats() (sent, failed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent, h.failed
}

func (h *Heartbeat) scheduleLocked(gen uint64) {
	h.timer = h.clock.AfterFunc(h.interval, func() { h.tick(gen) })
}

func (h *Heartbeat) tick(gen uint64) {
	h.mu.Lock()
	if !h.running || gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.mu.Unlock()

	err := h.send()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.failed++
		h.logger.Debug("failed to send ping", "error", err)
	} else {
		h.sent++
	}

	// Stop may have been called from inside send.
	if h.running && gen == h.gen {
		h.scheduleLocked(gen)
	}
}
