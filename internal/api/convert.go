package api

import (
	"encoding/json"
	"time"
)

// ParseTimestamp parses an ISO 8601 timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return time.Time{}
		}
	}

	return t.UTC()
}

// ToBalance converts the profile to a Balance. Missing credits count as 0.
func (u *apiUser) ToBalance() Balance {
	b := Balance{ExpiryDate: ParseTimestamp(u.ExpiryDate)}
	if u.Credits != nil {
		b.Credits = *u.Credits
	}
	return b
}

// ToTransaction converts an API ledger entry.
func (t *apiTransaction) ToTransaction() Transaction {
	out := Transaction{
		ID:        t.ID,
		Type:      t.Type,
		Amount:    t.Amount,
		Balance:   t.Balance,
		Reason:    t.Reason,
		CreatedAt: ParseTimestamp(t.CreatedAt),
	}

	if len(t.Metadata) > 0 && string(t.Metadata) != "null" {
		var md apiTransactionMetadata
		if json.Unmarshal(t.Metadata, &md) == nil {
			out.DurationSec = md.DurationSec
			out.CallSID = md.CallSID
		}
	}

	return out
}
