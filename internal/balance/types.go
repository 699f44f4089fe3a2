package balance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/troika-tech/creditsync/internal/api"
)

// TopicCredit is the pubsub topic updates are published on.
const TopicCredit = "credit"

// eventNamespace scopes the name-based UUIDs of stream events.
var eventNamespace = uuid.MustParse("6f1d3c2e-8a4b-4e57-9d0c-2b7a5e9f1c34")

// TypeReconciled marks an update produced by a REST reconciliation.
const TypeReconciled = "balance:reconciled"

var (
	ErrThrottled = errors.New("reconcile throttled")
	ErrNoSource  = errors.New("no balance source configured")
)

// Source says where the current balance came from.
type Source string

const (
	SourceNone  Source = ""
	SourceEvent Source = "event"
	SourceREST  Source = "rest"
)

// BalanceSource fetches the authoritative balance. *api.Client implements it.
type BalanceSource interface {
	GetBalance(ctx context.Context) (api.Balance, error)
}

// Update is one balance change published to listeners.
type Update struct {
	ID      string  // Ledger key; stable for a given stream frame
	Type    string  // credit:added, credit:deducted or balance:reconciled
	Delta   float64 // Signed change
	Balance float64 // Balance after the change
	Source  Source
	ConnID  string // Stream connection the event arrived on, "" for REST
	At      time.Time
}

// Snapshot is the tracker's current view.
type Snapshot struct {
	Balance    float64
	Known      bool // False until the first event or reconcile
	ExpiryDate time.Time
	UpdatedAt  time.Time
	Source     Source

	Events     int64
	Reconciles int64
	Throttled  int64 // Reconcile calls refused by the rate limit
	Deferred   int64 // Requested reconciles that waited for the rate limit
}

// Config holds tracker settings.
type Config struct {
	// ReconcileMinInterval is the minimum spacing between REST reconciles.
	// Zero disables throttling.
	ReconcileMinInterval time.Duration

	// QueueLength is the per-listener channel capacity.
	QueueLength int
}

// DefaultConfig returns the default tracker settings.
func DefaultConfig() Config {
	return Config{
		ReconcileMinInterval: 5 * time.Second,
		QueueLength:          256,
	}
}
