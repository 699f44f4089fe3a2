// Package database manages the PostgreSQL pool backing the credit ledger.
//
// The ledger is a single append-only table, credit_events, keyed by the
// update id so replays of the same batch are harmless.
package database
