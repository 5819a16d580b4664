package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncResult is the outcome of one account synchronization.
type SyncResult struct {
	AccountID       int64            `json:"account_id"`
	BankCode        string           `json:"bank_code"`
	Success         bool             `json:"success"`
	NewTransactions int              `json:"new_transactions"`
	Fetched         int              `json:"fetched"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	Duration        time.Duration    `json:"duration_ns"`
}

// RunSummary aggregates one batch run over all active accounts.
type RunSummary struct {
	AccountsTotal   int           `json:"accounts_total"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	NewTransactions int           `json:"new_transactions"`
	Results         []SyncResult  `json:"results"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
}

// Add folds one account result into the totals.
func (s *RunSummary) Add(r SyncResult) {
	s.Results = append(s.Results, r)
	if r.Success {
		s.Succeeded++
		s.NewTransactions += r.NewTransactions
	} else {
		s.Failed++
	}
}
