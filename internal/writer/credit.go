package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/troika-tech/creditsync/internal/balance"
)

const insertCreditEvent = `
	INSERT INTO credit_events (event_id, subscriber, event_type, source, delta, balance, conn_id, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (event_id) DO NOTHING
`

// CreditWriter consumes balance updates and writes them to credit_events.
type CreditWriter struct {
	cfg        WriterConfig
	subscriber string
	logger     *slog.Logger

	// Input from the balance tracker
	input <-chan balance.Update

	db BatchSender

	// Batching
	batch       []creditRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewCreditWriter creates a new CreditWriter for one subscriber's updates.
func NewCreditWriter(
	cfg WriterConfig,
	subscriber string,
	input <-chan balance.Update,
	db BatchSender,
	logger *slog.Logger,
) *CreditWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &CreditWriter{
		cfg:        cfg,
		subscriber: subscriber,
		input:      input,
		db:         db,
		logger:     logger,
		batch:      make([]creditRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (w *CreditWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("credit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down and flushes what is left using ctx.
func (w *CreditWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping credit writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("credit writer stopped")
	case <-ctx.Done():
		w.logger.Warn("credit writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *CreditWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads updates and accumulates batches until the input closes.
func (w *CreditWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case u, ok := <-w.input:
			if !ok {
				w.flush(w.ctx)
				return
			}
			w.handleUpdate(u)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *CreditWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleUpdate transforms and adds an update to the batch.
func (w *CreditWriter) handleUpdate(u balance.Update) {
	row := w.transform(u)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a balance.Update to a creditRow.
func (w *CreditWriter) transform(u balance.Update) creditRow {
	row := creditRow{
		EventID:    u.ID,
		Subscriber: w.subscriber,
		EventType:  u.Type,
		Source:     string(u.Source),
		Delta:      u.Delta,
		Balance:    u.Balance,
		OccurredAt: u.At.UTC(),
	}
	if u.ConnID != "" {
		connID := u.ConnID
		row.ConnID = &connID
	}
	return row
}

// flush writes the current batch to the database.
func (w *CreditWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]creditRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.retain(batch)
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed credit events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// retain puts a failed batch back in front of the pending rows so the next
// flush retries it. Rows already written are skipped by the event_id
// conflict guard. At most maxRetained rows are kept; the oldest go first.
func (w *CreditWriter) retain(failed []creditRow) {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.metrics.Errors++
	rows := append(failed, w.batch...)
	if limit := w.cfg.BatchSize * maxRetainedBatches; len(rows) > limit {
		dropped := len(rows) - limit
		w.metrics.Dropped += int64(dropped)
		w.logger.Warn("dropping unwritten credit events", "count", dropped)
		rows = rows[dropped:]
	}
	w.metrics.Retried += int64(len(failed))
	w.batch = rows
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *CreditWriter) batchInsert(ctx context.Context, rows []creditRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertCreditEvent,
			r.EventID, r.Subscriber, r.EventType, r.Source, r.Delta, r.Balance, r.ConnID, r.OccurredAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
