package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/troika-tech/creditsync/internal/clock"
	"github.com/troika-tech/creditsync/internal/connection"
	"github.com/troika-tech/creditsync/internal/queue"
	"github.com/troika-tech/creditsync/internal/router"
)

// Tracker holds the cached balance.
//
// Apply never blocks: updates go through an unbounded outbox and are
// published to listeners by Run. A listener that stops reading only stalls
// publication, never the stream.
type Tracker struct {
	cfg     Config
	logger  *slog.Logger
	clock   clock.Clock
	source  BalanceSource
	limiter *rate.Limiter

	bus          *pubsub.PubSub
	outbox       *queue.Queue[Update]
	reconcileReq chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once

	// busMu guards Sub/Unsub against Shutdown.
	busMu     sync.Mutex
	busClosed bool

	mu   sync.Mutex
	snap Snapshot
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock sets the clock used for timestamps and throttling.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithSource sets the REST balance source used by Reconcile.
func WithSource(src BalanceSource) Option {
	return func(t *Tracker) {
		t.source = src
	}
}

// NewTracker creates a Tracker. Call Run to start publishing.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.QueueLength < 1 {
		cfg.QueueLength = DefaultConfig().QueueLength
	}

	t := &Tracker{
		cfg:          cfg,
		logger:       slog.Default(),
		clock:        clock.Real(),
		bus:          pubsub.New(cfg.QueueLength),
		outbox:       queue.New[Update](cfg.QueueLength),
		reconcileReq: make(chan struct{}, 1),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.ReconcileMinInterval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(cfg.ReconcileMinInterval), 1)
	} else {
		t.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return t
}

// Apply records a stream event. It has the router.UpdateFunc signature so it
// can be passed to connection.Subscribe directly.
//
// An event without a balance only moves a balance that is already known.
// Before the first reconcile it is counted, not published, and a reconcile
// is requested to learn the starting point.
func (t *Tracker) Apply(e router.CreditUpdateEvent) {
	at := e.ReceivedAt
	if at.IsZero() {
		at = t.clock.Now()
	}

	t.mu.Lock()
	t.snap.Events++
	if !e.HasBalance && !t.snap.Known {
		t.mu.Unlock()
		t.logger.Info("credit delta before balance is known, reconciling",
			"type", e.Type,
			"amount", e.Amount,
			"conn_id", e.ConnID,
		)
		t.RequestReconcile()
		return
	}
	bal := e.NewBalance
	if !e.HasBalance {
		bal = t.snap.Balance + e.Amount
	}
	t.snap.Balance = bal
	t.snap.Known = true
	t.snap.UpdatedAt = at
	t.snap.Source = SourceEvent
	t.mu.Unlock()

	t.logger.Info("credit balance updated",
		"type", e.Type,
		"amount", e.Amount,
		"balance", bal,
		"conn_id", e.ConnID,
	)

	t.outbox.Push(Update{
		ID:      eventID(e),
		Type:    e.Type,
		Delta:   e.Amount,
		Balance: bal,
		Source:  SourceEvent,
		ConnID:  e.ConnID,
		At:      at,
	})
}

// eventID names a stream event by its connection and position on it, so
// the same frame always maps to the same ledger key. Events without a
// position get a random ID.
func eventID(e router.CreditUpdateEvent) string {
	if e.ConnID == "" || e.Seq == 0 {
		return uuid.NewString()
	}
	return uuid.NewSHA1(eventNamespace, []byte(e.ConnID+"/"+strconv.FormatUint(e.Seq, 10))).String()
}

// Reconcile replaces the cached balance with the authoritative one. Calls
// closer together than ReconcileMinInterval return ErrThrottled.
func (t *Tracker) Reconcile(ctx context.Context) error {
	if t.source == nil {
		return ErrNoSource
	}
	if !t.limiter.AllowN(t.clock.Now(), 1) {
		t.mu.Lock()
		t.snap.Throttled++
		t.mu.Unlock()
		return ErrThrottled
	}
	return t.fetch(ctx)
}

// fetch loads the REST balance. The caller has already been admitted by the
// limiter.
func (t *Tracker) fetch(ctx context.Context) error {
	b, err := t.source.GetBalance(ctx)
	if err != nil {
		t.logger.Warn("balance reconcile failed", "error", err)
		return fmt.Errorf("reconcile balance: %w", err)
	}

	now := t.clock.Now()

	t.mu.Lock()
	prev, known := t.snap.Balance, t.snap.Known
	t.snap.Balance = b.Credits
	t.snap.Known = true
	t.snap.ExpiryDate = b.ExpiryDate
	t.snap.UpdatedAt = now
	t.snap.Source = SourceREST
	t.snap.Reconciles++
	t.mu.Unlock()

	if known && prev == b.Credits {
		t.logger.Debug("balance reconciled, no drift", "balance", b.Credits)
		return nil
	}

	delta := 0.0
	if known {
		delta = b.Credits - prev
		t.logger.Info("balance drift corrected", "cached", prev, "actual", b.Credits)
	} else {
		t.logger.Info("initial balance loaded", "balance", b.Credits)
	}

	t.outbox.Push(Update{
		ID:      uuid.NewString(),
		Type:    TypeReconciled,
		Delta:   delta,
		Balance: b.Credits,
		Source:  SourceREST,
		At:      now,
	})
	return nil
}

// RequestReconcile asks Run to reconcile soon. It never blocks; requests made
// while one is pending are coalesced.
func (t *Tracker) RequestReconcile() {
	select {
	case t.reconcileReq <- struct{}{}:
	default:
	}
}

// HandleStatus is a connection.StateObserver. Missed events are never
// replayed, so every transition into the open state requests a reconcile.
func (t *Tracker) HandleStatus(old, new connection.Status) {
	if new.Connected && !old.Connected {
		t.RequestReconcile()
	}
}

// OutboxStats reports the queue between Apply and the listeners.
func (t *Tracker) OutboxStats() queue.Stats {
	return t.outbox.Stats()
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Run publishes queued updates and serves reconcile requests until ctx is
// done. It shuts the tracker down on return.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.shutdown()

	if t.source != nil {
		t.RequestReconcile()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.publishLoop(ctx) })
	g.Go(func() error { return t.reconcileLoop(ctx) })
	g.Go(func() error {
		// Release stalled listeners so a blocked Pub can return.
		<-ctx.Done()
		t.stopOnce.Do(func() { close(t.stopped) })
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

func (t *Tracker) publishLoop(ctx context.Context) error {
	for {
		u, err := t.outbox.Wait(ctx)
		if err != nil {
			return err
		}
		t.bus.Pub(u, TopicCredit)
	}
}

func (t *Tracker) reconcileLoop(ctx context.Context) error {
	if t.source == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.reconcileReq:
		}
		if err := t.awaitLimiter(ctx); err != nil {
			return err
		}
		// One fetch answers every request made while waiting.
		select {
		case <-t.reconcileReq:
		default:
		}
		_ = t.fetch(ctx)
	}
}

// awaitLimiter blocks until the limiter admits a reconcile, measuring the
// wait on the tracker's clock.
func (t *Tracker) awaitLimiter(ctx context.Context) error {
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}

	t.mu.Lock()
	t.snap.Deferred++
	t.mu.Unlock()
	t.logger.Debug("reconcile deferred, too soon after the last one", "wait", d)

	ready := make(chan struct{})
	timer := t.clock.AfterFunc(d, func() { close(ready) })
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		timer.Stop()
		r.CancelAt(t.clock.Now())
		return ctx.Err()
	}
}

func (t *Tracker) shutdown() {
	t.stopOnce.Do(func() { close(t.stopped) })

	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.busClosed {
		return
	}
	t.busClosed = true
	t.outbox.Close()
	t.bus.Shutdown()
}
