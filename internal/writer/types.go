package writer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// BatchSender is the part of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// creditRow represents a row for the credit_events table.
type creditRow struct {
	EventID    string
	Subscriber string
	EventType  string
	Source     string
	Delta      float64
	Balance    float64
	ConnID     *string // NULL for REST reconciles
	OccurredAt time.Time
}

// maxRetainedBatches bounds how many batches of failed rows are kept for retry.
const maxRetainedBatches = 10

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Retried   int64 // Rows put back after a failed flush
	Dropped   int64 // Rows discarded past the retry limit
}

var errNoDatabase = errors.New("no database configured")
