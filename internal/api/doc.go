// Package api provides the calling API REST client used to read the
// authoritative credit balance and transaction history.
//
// Endpoints (relative to the API base URL):
//   - GET /api/v1/auth/me                        profile with credits and expiryDate
//   - GET /api/v1/auth/me/credits/transactions   paged credit ledger
//
// Every request carries "Authorization: Bearer <token>".
package api
