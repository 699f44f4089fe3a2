// Package writer persists balance updates to the credit_events ledger.
//
// Updates are accumulated into batches and inserted with pgx.Batch. Inserts
// are append-only and idempotent on event_id.
package writer
