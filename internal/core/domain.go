package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

type (
	JobStatus string

	// EncryptedField is one independently sealed credential value.
	EncryptedField struct {
		Ciphertext []byte `json:"ciphertext"`
		Nonce      []byte `json:"nonce"`
		Tag        []byte `json:"tag"`
	}

	BankAccount struct {
		ID                int64
		InstitutionID     int64
		BankCode          string // adapter tag, e.g. "ziraat"
		AccountNumber     string
		IBAN              string
		Currency          string
		Credentials       map[string]EncryptedField
		IsActive          bool
		LastBalance       *decimal.Decimal
		LastBalanceUpdate *time.Time
	}

	// UnifiedTransaction is the bank-agnostic shape every adapter produces.
	// Amount is signed: negative means money left the account.
	UnifiedTransaction struct {
		BankRefID       string
		TransactionDate time.Time
		Amount          decimal.Decimal
		Currency        string
		Description     string
		Counterparty    *string
		BalanceAfter    *decimal.Decimal
		Raw             string
	}

	// AccountBalance is one row of an adapter's account listing.
	AccountBalance struct {
		AccountNumber string
		IBAN          string
		Currency      string
		Balance       decimal.Decimal
	}

	CronJob struct {
		Name            string
		Schedule        string
		Description     string
		IsEnabled       bool
		LastRunAt       *time.Time
		LastRunStatus   JobStatus
		LastRunDuration time.Duration
		RunCount        int64
		SuccessCount    int64
		ErrorCount      int64
		Config          json.RawMessage
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	CronJobLog struct {
		ID           int64
		JobName      string
		Status       JobStatus
		StartedAt    time.Time
		CompletedAt  *time.Time
		Duration     time.Duration
		Result       json.RawMessage
		ErrorMessage string
	}

	DateRange struct {
		Start time.Time
		End   time.Time
	}
)

var (
	ErrAccountNotFound = errors.New("bank account not found")
	ErrAccountInactive = errors.New("bank account is inactive")
	ErrJobNotFound     = errors.New("cron job not found")
	ErrEmptyBankRef    = errors.New("empty bank reference id")
)

// TrailingDays returns the window [now-days, now], with the start truncated to midnight.
func TrailingDays(now time.Time, days int) DateRange {
	start := now.AddDate(0, 0, -days)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, now.Location())
	return DateRange{Start: start, End: now}
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range bounds cannot be zero")
	}
	if r.End.Before(r.Start) {
		return errors.New("date range end is before start")
	}
	return nil
}

// IsTerminal reports whether an execution with this status has finished.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

func (t UnifiedTransaction) Validate() error {
	if strings.TrimSpace(t.BankRefID) == "" {
		return ErrEmptyBankRef
	}
	if t.TransactionDate.IsZero() {
		return errors.New("transaction date cannot be zero")
	}
	return nil
}

// IsOutgoing reports whether the transaction debited the account.
func (t UnifiedTransaction) IsOutgoing() bool {
	return t.Amount.IsNegative()
}

// Matches reports whether a listing row describes the given account.
func (b AccountBalance) Matches(a BankAccount) bool {
	if b.IBAN != "" && a.IBAN != "" && normalizeIBAN(b.IBAN) == normalizeIBAN(a.IBAN) {
		return true
	}
	return b.AccountNumber != "" && strings.TrimSpace(b.AccountNumber) == strings.TrimSpace(a.AccountNumber)
}

func normalizeIBAN(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}

// Identifier is what adapters receive as the account reference: the account
// number when present, the IBAN otherwise.
func (a BankAccount) Identifier() string {
	if strings.TrimSpace(a.AccountNumber) != "" {
		return strings.TrimSpace(a.AccountNumber)
	}
	return normalizeIBAN(a.IBAN)
}
