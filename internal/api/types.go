package api

import (
	"encoding/json"
	"time"
)

// Balance is the authoritative credit balance of the current user.
type Balance struct {
	Credits    float64
	ExpiryDate time.Time // Zero when the account has no expiry
}

// Transaction is one credit ledger entry.
type Transaction struct {
	ID          string
	Type        string // "addition" or "deduction"
	Amount      float64
	Balance     float64
	Reason      string
	CreatedAt   time.Time
	DurationSec int    // From metadata, 0 when absent
	CallSID     string // From metadata, "" when absent
}

// TransactionQuery selects a page of the credit ledger.
type TransactionQuery struct {
	Limit     int       // Default 50
	Skip      int
	StartDate time.Time // Optional
	EndDate   time.Time // Optional
}

// TransactionPage is one page of the credit ledger.
type TransactionPage struct {
	Transactions []Transaction
	Total        int
}

// API response envelopes

type meResponse struct {
	Success bool `json:"success"`
	Data    struct {
		User *apiUser `json:"user"`
	} `json:"data"`
}

type apiUser struct {
	ID         string   `json:"_id"`
	Email      string   `json:"email"`
	Credits    *float64 `json:"credits"`
	ExpiryDate string   `json:"expiryDate"`
}

type transactionsResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Transactions []apiTransaction `json:"transactions"`
		Total        int              `json:"total"`
	} `json:"data"`
}

type apiTransaction struct {
	ID        string          `json:"_id"`
	Type      string          `json:"type"`
	Amount    float64         `json:"amount"`
	Balance   float64         `json:"balance"`
	Reason    string          `json:"reason"`
	CreatedAt string          `json:"createdAt"`
	Metadata  json.RawMessage `json:"metadata"`
}

type apiTransactionMetadata struct {
	DurationSec int    `json:"durationSec"`
	CallSID     string `json:"callSid"`
}
