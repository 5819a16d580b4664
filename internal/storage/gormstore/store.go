// Package gormstore implements the storage boundary on gorm, used for the
// Postgres deployment. Any gorm dialector works; tests run on SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"banksync/internal/core"
	"banksync/internal/storage"
)

type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects through dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&BankAccount{}, &BankTransaction{}, &CronJob{}, &CronJobLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_bank_transactions_ref
		ON bank_transactions (account_id, lower(bank_ref_id))`).Error; err != nil {
		return nil, fmt.Errorf("failed to create transaction ref index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (core.BankAccount, error) {
	var m BankAccount
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.BankAccount{}, fmt.Errorf("account %d: %w", id, core.ErrAccountNotFound)
	}
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("failed to get account: %w", err)
	}
	return m.toDomain()
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]core.BankAccount, error) {
	var models []BankAccount
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	out := make([]core.BankAccount, 0, len(models))
	for _, m := range models {
		a, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, a core.BankAccount) (int64, error) {
	creds, err := json.Marshal(nonNil(a.Credentials))
	if err != nil {
		return 0, fmt.Errorf("failed to encode credentials: %w", err)
	}
	m := BankAccount{
		InstitutionID: a.InstitutionID,
		BankCode:      a.BankCode,
		AccountNumber: a.AccountNumber,
		IBAN:          a.IBAN,
		Currency:      a.Currency,
		Credentials:   string(creds),
		IsActive:      a.IsActive,
	}
	if m.Currency == "" {
		m.Currency = "TRY"
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}
	return m.ID, nil
}

func (s *Store) UpdateCredentialField(ctx context.Context, accountID int64, field string, value core.EncryptedField) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m BankAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %d: %w", accountID, core.ErrAccountNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load account: %w", err)
		}
		creds := map[string]core.EncryptedField{}
		if m.Credentials != "" {
			if err := json.Unmarshal([]byte(m.Credentials), &creds); err != nil {
				return fmt.Errorf("failed to decode credentials: %w", err)
			}
		}
		creds[field] = value
		encoded, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("failed to encode credentials: %w", err)
		}
		return tx.Model(&BankAccount{}).Where("id = ?", accountID).Update("credentials", string(encoded)).Error
	})
}

func (s *Store) SaveSyncResult(ctx context.Context, accountID int64, txs []core.UnifiedTransaction, balance *decimal.Decimal, at time.Time) (int, error) {
	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range txs {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("transaction %q: %w", t.BankRefID, err)
			}
			row := BankTransaction{
				AccountID:       accountID,
				BankRefID:       t.BankRefID,
				TransactionDate: t.TransactionDate.UTC(),
				Amount:          t.Amount,
				Currency:        t.Currency,
				Description:     t.Description,
				Counterparty:    t.Counterparty,
				RawResponse:     t.Raw,
			}
			if t.BalanceAfter != nil {
				row.BalanceAfter = decimal.NewNullDecimal(*t.BalanceAfter)
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("failed to insert transaction %q: %w", t.BankRefID, res.Error)
			}
			inserted += int(res.RowsAffected)
		}

		updates := map[string]interface{}{"last_balance_update": at.UTC()}
		if balance != nil {
			updates["last_balance"] = decimal.NewNullDecimal(*balance)
		}
		res := tx.Model(&BankAccount{}).Where("id = ?", accountID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("account %d: %w", accountID, core.ErrAccountNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&BankTransaction{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID int64, limit int) ([]core.UnifiedTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []BankTransaction
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("transaction_date DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]core.UnifiedTransaction, 0, len(rows))
	for _, r := range rows {
		t := core.UnifiedTransaction{
			BankRefID:       r.BankRefID,
			TransactionDate: r.TransactionDate,
			Amount:          r.Amount,
			Currency:        r.Currency,
			Description:     r.Description,
			Counterparty:    r.Counterparty,
			Raw:             r.RawResponse,
		}
		if r.BalanceAfter.Valid {
			d := r.BalanceAfter.Decimal
			t.BalanceAfter = &d
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, name string) (core.CronJob, error) {
	var m CronJob
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.CronJob{}, fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	if err != nil {
		return core.CronJob{}, fmt.Errorf("failed to get job: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListJobs(ctx context.Context) ([]core.CronJob, error) {
	var models []CronJob
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]core.CronJob, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) EnsureJob(ctx context.Context, job core.CronJob) (core.CronJob, error) {
	config := string(job.Config)
	if config == "" {
		config = "{}"
	}
	m := CronJob{
		Name:        job.Name,
		Schedule:    job.Schedule,
		Description: job.Description,
		IsEnabled:   job.IsEnabled,
		Config:      config,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return core.CronJob{}, fmt.Errorf("failed to ensure job: %w", err)
	}
	return s.GetJob(ctx, job.Name)
}

func (s *Store) updateJob(ctx context.Context, name string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&CronJob{}).Where("name = ?", name).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	return nil
}

func (s *Store) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	return s.updateJob(ctx, name, map[string]interface{}{"is_enabled": enabled})
}

func (s *Store) SetJobSchedule(ctx context.Context, name, schedule string) error {
	return s.updateJob(ctx, name, map[string]interface{}{"schedule": schedule})
}

func (s *Store) RecordJobRun(ctx context.Context, name string, status core.JobStatus, startedAt time.Time, duration time.Duration) error {
	var success, failure int
	if status == core.JobStatusSuccess {
		success = 1
	} else {
		failure = 1
	}
	return s.updateJob(ctx, name, map[string]interface{}{
		"last_run_at":          startedAt.UTC(),
		"last_run_status":      string(status),
		"last_run_duration_ms": duration.Milliseconds(),
		"run_count":            gorm.Expr("run_count + 1"),
		"success_count":        gorm.Expr("success_count + ?", success),
		"error_count":          gorm.Expr("error_count + ?", failure),
	})
}

func (s *Store) CreateLog(ctx context.Context, jobName string, startedAt time.Time) (int64, error) {
	m := CronJobLog{JobName: jobName, Status: string(core.JobStatusRunning), StartedAt: startedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("failed to create job log: %w", err)
	}
	return m.ID, nil
}

func (s *Store) CloseLog(ctx context.Context, id int64, c storage.LogCompletion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("close job log %d: status %q is not terminal", id, c.Status)
	}
	updates := map[string]interface{}{
		"status":        string(c.Status),
		"completed_at":  c.CompletedAt.UTC(),
		"duration_ms":   c.Duration.Milliseconds(),
		"error_message": c.ErrorMessage,
	}
	if len(c.Result) > 0 {
		updates["result"] = string(c.Result)
	}
	res := s.db.WithContext(ctx).Model(&CronJobLog{}).
		Where("id = ? AND status = ?", id, string(core.JobStatusRunning)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to close job log: %w", res.Error)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, f storage.LogFilter) ([]core.CronJobLog, error) {
	q := s.db.WithContext(ctx).Model(&CronJobLog{})
	if f.JobName != "" {
		q = q.Where("job_name = ?", f.JobName)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var models []CronJobLog
	if err := q.Order("started_at DESC, id DESC").Limit(f.EffectiveLimit()).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	return logsToDomain(models), nil
}

func (s *Store) ListRunningLogs(ctx context.Context, startedBefore time.Time) ([]core.CronJobLog, error) {
	var models []CronJobLog
	if err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", string(core.JobStatusRunning), startedBefore.UTC()).
		Order("started_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list running job logs: %w", err)
	}
	return logsToDomain(models), nil
}

func (s *Store) DeleteLogs(ctx context.Context, jobName string, before time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Where("status <> ?", string(core.JobStatusRunning))
	if jobName != "" {
		q = q.Where("job_name = ?", jobName)
	}
	if !before.IsZero() {
		q = q.Where("started_at < ?", before.UTC())
	}
	res := q.Delete(&CronJobLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete job logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (m BankAccount) toDomain() (core.BankAccount, error) {
	creds := map[string]core.EncryptedField{}
	if m.Credentials != "" {
		if err := json.Unmarshal([]byte(m.Credentials), &creds); err != nil {
			return core.BankAccount{}, fmt.Errorf("account %d: failed to decode credentials: %w", m.ID, err)
		}
	}
	a := core.BankAccount{
		ID:                m.ID,
		InstitutionID:     m.InstitutionID,
		BankCode:          m.BankCode,
		AccountNumber:     m.AccountNumber,
		IBAN:              m.IBAN,
		Currency:          m.Currency,
		Credentials:       creds,
		IsActive:          m.IsActive,
		LastBalanceUpdate: m.LastBalanceUpdate,
	}
	if m.LastBalance.Valid {
		d := m.LastBalance.Decimal
		a.LastBalance = &d
	}
	return a, nil
}

func (m CronJob) toDomain() core.CronJob {
	return core.CronJob{
		Name:            m.Name,
		Schedule:        m.Schedule,
		Description:     m.Description,
		IsEnabled:       m.IsEnabled,
		LastRunAt:       m.LastRunAt,
		LastRunStatus:   core.JobStatus(m.LastRunStatus),
		LastRunDuration: time.Duration(m.LastRunDurationMs) * time.Millisecond,
		RunCount:        m.RunCount,
		SuccessCount:    m.SuccessCount,
		ErrorCount:      m.ErrorCount,
		Config:          json.RawMessage(m.Config),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func logsToDomain(models []CronJobLog) []core.CronJobLog {
	out := make([]core.CronJobLog, 0, len(models))
	for _, m := range models {
		l := core.CronJobLog{
			ID:           m.ID,
			JobName:      m.JobName,
			Status:       core.JobStatus(m.Status),
			StartedAt:    m.StartedAt,
			CompletedAt:  m.CompletedAt,
			Duration:     time.Duration(m.DurationMs) * time.Millisecond,
			ErrorMessage: m.ErrorMessage,
		}
		if m.Result != nil {
			l.Result = json.RawMessage(*m.Result)
		}
		out = append(out, l)
	}
	return out
}

func nonNil(c map[string]core.EncryptedField) map[string]core.EncryptedField {
	if c == nil {
		return map[string]core.EncryptedField{}
	}
	return c
}
