package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

type BankAccount struct {
	ID                int64               `gorm:"primaryKey;autoIncrement"`
	InstitutionID     int64               `gorm:"not null;default:0"`
	BankCode          string              `gorm:"type:varchar(32);not null"`
	AccountNumber     string              `gorm:"type:varchar(64);not null"`
	IBAN              string              `gorm:"column:iban;type:varchar(34);not null"`
	Currency          string              `gorm:"type:varchar(3);not null"`
	Credentials       string              `gorm:"type:text;not null"`
	IsActive          bool                `gorm:"not null;index"`
	LastBalance       decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	LastBalanceUpdate *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (BankAccount) TableName() string {
	return "bank_accounts"
}

// BankTransaction rows are unique per (account_id, lower(bank_ref_id)); the
// expression index is created in Open since struct tags cannot express it.
type BankTransaction struct {
	ID              int64               `gorm:"primaryKey;autoIncrement"`
	AccountID       int64               `gorm:"not null;index:idx_bank_transactions_date,priority:1"`
	BankRefID       string              `gorm:"type:varchar(128);not null"`
	TransactionDate time.Time           `gorm:"not null;index:idx_bank_transactions_date,priority:2"`
	Amount          decimal.Decimal     `gorm:"type:numeric(20,4);not null"`
	Currency        string              `gorm:"type:varchar(3);not null"`
	Description     string              `gorm:"type:text;not null"`
	Counterparty    *string             `gorm:"type:text"`
	BalanceAfter    decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	RawResponse     string              `gorm:"type:text;not null"`
	CreatedAt       time.Time
}

func (BankTransaction) TableName() string {
	return "bank_transactions"
}

type CronJob struct {
	Name              string `gorm:"primaryKey;type:varchar(100)"`
	Schedule          string `gorm:"type:varchar(100);not null"`
	Description       string `gorm:"type:text;not null"`
	IsEnabled         bool   `gorm:"not null"`
	LastRunAt         *time.Time
	LastRunStatus     string `gorm:"type:varchar(20);not null"`
	LastRunDurationMs int64  `gorm:"not null"`
	RunCount          int64  `gorm:"not null"`
	SuccessCount      int64  `gorm:"not null"`
	ErrorCount        int64  `gorm:"not null"`
	Config            string `gorm:"type:text;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CronJob) TableName() string {
	return "cron_jobs"
}

type CronJobLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	JobName      string    `gorm:"type:varchar(100);not null;index:idx_cron_job_logs_job,priority:1"`
	Status       string    `gorm:"type:varchar(20);not null;index"`
	StartedAt    time.Time `gorm:"not null;index:idx_cron_job_logs_job,priority:2"`
	CompletedAt  *time.Time
	DurationMs   int64   `gorm:"not null"`
	Result       *string `gorm:"type:text"`
	ErrorMessage string  `gorm:"type:text;not null"`
}

func (CronJobLog) TableName() string {
	return "cron_job_logs"
}
