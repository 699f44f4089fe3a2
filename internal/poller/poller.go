package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/troika-tech/creditsync/internal/balance"
)

// Reconciler refreshes the balance from the REST API.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// LiveFunc reports whether the stream is currently delivering updates.
type LiveFunc func() bool

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 1m)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats counts poll outcomes.
type Stats struct {
	Polls     int64
	Skipped   int64 // Stream was live
	Throttled int64
	Errors    int64
}

// Poller periodically reconciles the balance while the stream is down.
type Poller struct {
	cfg    Config
	target Reconciler
	live   LiveFunc
	logger *slog.Logger

	polls     atomic.Int64
	skipped   atomic.Int64
	throttled atomic.Int64
	failures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. A nil live func polls on every tick.
func New(cfg Config, target Reconciler, live LiveFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if live == nil {
		live = func() bool { return false }
	}
	return &Poller{
		cfg:    cfg,
		target: target,
		live:   live,
		logger: logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback balance poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback balance poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:     p.polls.Load(),
		Skipped:   p.skipped.Load(),
		Throttled: p.throttled.Load(),
		Errors:    p.failures.Load(),
	}
}

// run is the main polling loop. The first poll waits one interval; start-up
// reconciliation is the tracker's job.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	if p.live() {
		p.skipped.Add(1)
		p.logger.Debug("stream live, skipping balance poll")
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	p.polls.Add(1)
	err := p.target.Reconcile(ctx)
	switch {
	case err == nil:
		p.logger.Debug("balance polled")
	case errors.Is(err, balance.ErrThrottled):
		p.throttled.Add(1)
	case errors.Is(err, context.Canceled):
	default:
		p.failures.Add(1)
		p.logger.Warn("failed to poll balance", "err", err)
	}
}
