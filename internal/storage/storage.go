// Package storage defines the persistence boundary of the sync subsystem.
// Engines live in subpackages: sqlite (database/sql) and gormstore (gorm).
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"banksync/internal/core"
)

// AccountStore reads accounts and owns transaction ingestion.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (core.BankAccount, error)
	ListActiveAccounts(ctx context.Context) ([]core.BankAccount, error)
	CreateAccount(ctx context.Context, a core.BankAccount) (int64, error)
	UpdateCredentialField(ctx context.Context, accountID int64, field string, value core.EncryptedField) error

	// SaveSyncResult inserts txs that are not yet stored for the account and
	// refreshes the cached balance, all in one transaction. Uniqueness on
	// (account, bank ref) is case-insensitive. Returns the number of new rows.
	SaveSyncResult(ctx context.Context, accountID int64, txs []core.UnifiedTransaction, balance *decimal.Decimal, at time.Time) (int, error)

	CountTransactions(ctx context.Context, accountID int64) (int64, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]core.UnifiedTransaction, error)
}

// JobStore persists scheduler state.
type JobStore interface {
	GetJob(ctx context.Context, name string) (core.CronJob, error)
	ListJobs(ctx context.Context) ([]core.CronJob, error)
	// EnsureJob inserts the job when absent and returns the persisted row.
	EnsureJob(ctx context.Context, job core.CronJob) (core.CronJob, error)
	SetJobEnabled(ctx context.Context, name string, enabled bool) error
	SetJobSchedule(ctx context.Context, name, schedule string) error
	RecordJobRun(ctx context.Context, name string, status core.JobStatus, startedAt time.Time, duration time.Duration) error

	CreateLog(ctx context.Context, jobName string, startedAt time.Time) (int64, error)
	CloseLog(ctx context.Context, id int64, c LogCompletion) error
	ListLogs(ctx context.Context, f LogFilter) ([]core.CronJobLog, error)
	// DeleteLogs removes finished logs started before the cutoff. An empty
	// job name matches every job; a zero cutoff matches every row.
	DeleteLogs(ctx context.Context, jobName string, before time.Time) (int64, error)
	ListRunningLogs(ctx context.Context, startedBefore time.Time) ([]core.CronJobLog, error)
}

type Store interface {
	AccountStore
	JobStore
	Close() error
}

type LogCompletion struct {
	Status       core.JobStatus
	CompletedAt  time.Time
	Duration     time.Duration
	Result       json.RawMessage
	ErrorMessage string
}

type LogFilter struct {
	JobName string
	Status  core.JobStatus
	Limit   int
}

// DefaultLogLimit applies when a LogFilter carries no limit.
const DefaultLogLimit = 50

func (f LogFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLogLimit
	}
	return f.Limit
}
