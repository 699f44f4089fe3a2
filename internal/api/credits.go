package api

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"
)

const (
	mePath           = "/api/v1/auth/me"
	transactionsPath = "/api/v1/auth/me/credits/transactions"

	defaultTransactionLimit = 50
)

// ErrNoUser is returned when the profile response carries no user.
var ErrNoUser = errors.New("profile response has no user")

// GetBalance fetches the current user's credit balance.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var resp meResponse
	if err := c.get(ctx, mePath, nil, &resp); err != nil {
		return Balance{}, err
	}
	if resp.Data.User == nil {
		return Balance{}, ErrNoUser
	}

	b := resp.Data.User.ToBalance()
	c.logger.Debug("fetched balance", "credits", b.Credits)
	return b, nil
}

// GetTransactions fetches one page of the current user's credit ledger.
func (c *Client) GetTransactions(ctx context.Context, q TransactionQuery) (TransactionPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTransactionLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("skip", strconv.Itoa(q.Skip))
	if !q.StartDate.IsZero() {
		params.Set("startDate", q.StartDate.UTC().Format(time.RFC3339))
	}
	if !q.EndDate.IsZero() {
		params.Set("endDate", q.EndDate.UTC().Format(time.RFC3339))
	}

	var resp transactionsResponse
	if err := c.get(ctx, transactionsPath, params, &resp); err != nil {
		return TransactionPage{}, err
	}

	page := TransactionPage{
		Transactions: make([]Transaction, 0, len(resp.Data.Transactions)),
		Total:        resp.Data.Total,
	}
	for i := range resp.Data.Transactions {
		page.Transactions = append(page.Transactions, resp.Data.Transactions[i].ToTransaction())
	}
	return page, nil
}
