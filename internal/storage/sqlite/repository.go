// Package sqlite is the default storage engine: database/sql over the pure-Go
// modernc driver, with golang-migrate managing the schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"banksync/internal/core"
	"banksync/internal/storage"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ storage.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main handle is opened.
	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("SQLite schema ready", "path", dbPath, "version", version)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialising on one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.BankAccount, error) {
	row, err := r.queries.GetAccount(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BankAccount{}, fmt.Errorf("account %d: %w", id, core.ErrAccountNotFound)
	}
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("get account: %w", err)
	}
	return row.toDomain()
}

func (r *SQLiteRepository) ListActiveAccounts(ctx context.Context) ([]core.BankAccount, error) {
	rows, err := r.queries.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	accounts := make([]core.BankAccount, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.BankAccount) (int64, error) {
	creds, err := marshalCredentials(a.Credentials)
	if err != nil {
		return 0, err
	}
	currency := a.Currency
	if currency == "" {
		currency = "TRY"
	}
	id, err := r.queries.CreateAccount(ctx, CreateAccountParams{
		InstitutionID: a.InstitutionID,
		BankCode:      a.BankCode,
		AccountNumber: a.AccountNumber,
		IBAN:          a.IBAN,
		Currency:      currency,
		Credentials:   creds,
		IsActive:      a.IsActive,
		Now:           formatTime(r.now()),
	})
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// UpdateCredentialField replaces a single sealed field, leaving the others untouched.
func (r *SQLiteRepository) UpdateCredentialField(ctx context.Context, accountID int64, field string, value core.EncryptedField) error {
	return r.inTx(ctx, func(q *Queries) error {
		row, err := q.GetAccount(ctx, accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account %d: %w", accountID, core.ErrAccountNotFound)
		}
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		creds, err := unmarshalCredentials(row.Credentials)
		if err != nil {
			return err
		}
		creds[field] = value
		encoded, err := marshalCredentials(creds)
		if err != nil {
			return err
		}
		if _, err := q.SetCredentials(ctx, accountID, encoded, formatTime(r.now())); err != nil {
			return fmt.Errorf("update credentials: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) SaveSyncResult(ctx context.Context, accountID int64, txs []core.UnifiedTransaction, balance *decimal.Decimal, at time.Time) (int, error) {
	inserted := 0
	err := r.inTx(ctx, func(q *Queries) error {
		created := formatTime(r.now())
		for _, t := range txs {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("transaction %q: %w", t.BankRefID, err)
			}
			ok, err := q.InsertTransactionIfAbsent(ctx, InsertTransactionParams{
				AccountID:       accountID,
				BankRefID:       t.BankRefID,
				TransactionDate: formatTime(t.TransactionDate),
				Amount:          t.Amount.String(),
				Currency:        t.Currency,
				Description:     t.Description,
				Counterparty:    nullString(t.Counterparty),
				BalanceAfter:    nullDecimal(t.BalanceAfter),
				RawResponse:     t.Raw,
				CreatedAt:       created,
			})
			if err != nil {
				return fmt.Errorf("insert transaction %q: %w", t.BankRefID, err)
			}
			if ok {
				inserted++
			}
		}

		n, err := q.SetBalance(ctx, accountID, nullDecimal(balance), formatTime(at))
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("account %d: %w", accountID, core.ErrAccountNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.DebugContext(ctx, "Sync result saved",
		"account_id", accountID,
		"fetched", len(txs),
		"inserted", inserted)
	return inserted, nil
}

func (r *SQLiteRepository) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	n, err := r.queries.CountTransactions(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID int64, limit int) ([]core.UnifiedTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.queries.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.UnifiedTransaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *SQLiteRepository) GetJob(ctx context.Context, name string) (core.CronJob, error) {
	row, err := r.queries.GetJob(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CronJob{}, fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	if err != nil {
		return core.CronJob{}, fmt.Errorf("get job: %w", err)
	}
	return row.toDomain()
}

func (r *SQLiteRepository) ListJobs(ctx context.Context) ([]core.CronJob, error) {
	rows, err := r.queries.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]core.CronJob, 0, len(rows))
	for _, row := range rows {
		j, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *SQLiteRepository) EnsureJob(ctx context.Context, job core.CronJob) (core.CronJob, error) {
	config := string(job.Config)
	if config == "" {
		config = "{}"
	}
	if err := r.queries.InsertJobIfAbsent(ctx, InsertJobParams{
		Name:        job.Name,
		Schedule:    job.Schedule,
		Description: job.Description,
		IsEnabled:   job.IsEnabled,
		Config:      config,
		Now:         formatTime(r.now()),
	}); err != nil {
		return core.CronJob{}, fmt.Errorf("ensure job: %w", err)
	}
	return r.GetJob(ctx, job.Name)
}

func (r *SQLiteRepository) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	n, err := r.queries.SetJobEnabled(ctx, name, enabled, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("set job enabled: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SetJobSchedule(ctx context.Context, name, schedule string) error {
	n, err := r.queries.SetJobSchedule(ctx, name, schedule, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("set job schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	return nil
}

func (r *SQLiteRepository) RecordJobRun(ctx context.Context, name string, status core.JobStatus, startedAt time.Time, duration time.Duration) error {
	p := RecordJobRunParams{
		Name:       name,
		Status:     string(status),
		StartedAt:  formatTime(startedAt),
		DurationMs: duration.Milliseconds(),
		Now:        formatTime(r.now()),
	}
	if status == core.JobStatusSuccess {
		p.Success = 1
	} else {
		p.Failure = 1
	}
	n, err := r.queries.RecordJobRun(ctx, p)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %q: %w", name, core.ErrJobNotFound)
	}
	return nil
}

func (r *SQLiteRepository) CreateLog(ctx context.Context, jobName string, startedAt time.Time) (int64, error) {
	id, err := r.queries.CreateLog(ctx, jobName, formatTime(startedAt))
	if err != nil {
		return 0, fmt.Errorf("create job log: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) CloseLog(ctx context.Context, id int64, c storage.LogCompletion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("close job log %d: status %q is not terminal", id, c.Status)
	}
	var result sql.NullString
	if len(c.Result) > 0 {
		result = sql.NullString{String: string(c.Result), Valid: true}
	}
	n, err := r.queries.CloseLog(ctx, CloseLogParams{
		ID:           id,
		Status:       string(c.Status),
		CompletedAt:  formatTime(c.CompletedAt),
		DurationMs:   c.Duration.Milliseconds(),
		Result:       result,
		ErrorMessage: c.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("close job log: %w", err)
	}
	if n == 0 {
		slog.WarnContext(ctx, "Job log already closed", "log_id", id, "status", c.Status)
	}
	return nil
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, f storage.LogFilter) ([]core.CronJobLog, error) {
	rows, err := r.queries.ListLogs(ctx, f.JobName, string(f.Status), f.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	return logsToDomain(rows)
}

func (r *SQLiteRepository) ListRunningLogs(ctx context.Context, startedBefore time.Time) ([]core.CronJobLog, error) {
	rows, err := r.queries.ListRunningLogs(ctx, formatTime(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("list running job logs: %w", err)
	}
	return logsToDomain(rows)
}

func (r *SQLiteRepository) DeleteLogs(ctx context.Context, jobName string, before time.Time) (int64, error) {
	cutoff := ""
	if !before.IsZero() {
		cutoff = formatTime(before)
	}
	n, err := r.queries.DeleteLogs(ctx, jobName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete job logs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (row accountRow) toDomain() (core.BankAccount, error) {
	creds, err := unmarshalCredentials(row.Credentials)
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("account %d: %w", row.ID, err)
	}
	a := core.BankAccount{
		ID:            row.ID,
		InstitutionID: row.InstitutionID,
		BankCode:      row.BankCode,
		AccountNumber: row.AccountNumber,
		IBAN:          row.IBAN,
		Currency:      row.Currency,
		Credentials:   creds,
		IsActive:      row.IsActive,
	}
	if row.LastBalance.Valid {
		d, err := decimal.NewFromString(row.LastBalance.String)
		if err != nil {
			return core.BankAccount{}, fmt.Errorf("account %d balance: %w", row.ID, err)
		}
		a.LastBalance = &d
	}
	if row.LastBalanceUpdate.Valid {
		t, err := parseTime(row.LastBalanceUpdate.String)
		if err != nil {
			return core.BankAccount{}, fmt.Errorf("account %d balance update: %w", row.ID, err)
		}
		a.LastBalanceUpdate = &t
	}
	return a, nil
}

func (row transactionRow) toDomain() (core.UnifiedTransaction, error) {
	date, err := parseTime(row.TransactionDate)
	if err != nil {
		return core.UnifiedTransaction{}, fmt.Errorf("transaction %q date: %w", row.BankRefID, err)
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.UnifiedTransaction{}, fmt.Errorf("transaction %q amount: %w", row.BankRefID, err)
	}
	t := core.UnifiedTransaction{
		BankRefID:       row.BankRefID,
		TransactionDate: date,
		Amount:          amount,
		Currency:        row.Currency,
		Description:     row.Description,
		Raw:             row.RawResponse,
	}
	if row.Counterparty.Valid {
		s := row.Counterparty.String
		t.Counterparty = &s
	}
	if row.BalanceAfter.Valid {
		d, err := decimal.NewFromString(row.BalanceAfter.String)
		if err != nil {
			return core.UnifiedTransaction{}, fmt.Errorf("transaction %q balance: %w", row.BankRefID, err)
		}
		t.BalanceAfter = &d
	}
	return t, nil
}

func (row jobRow) toDomain() (core.CronJob, error) {
	j := core.CronJob{
		Name:            row.Name,
		Schedule:        row.Schedule,
		Description:     row.Description,
		IsEnabled:       row.IsEnabled,
		LastRunStatus:   core.JobStatus(row.LastRunStatus),
		LastRunDuration: time.Duration(row.LastRunDurationMs) * time.Millisecond,
		RunCount:        row.RunCount,
		SuccessCount:    row.SuccessCount,
		ErrorCount:      row.ErrorCount,
		Config:          json.RawMessage(row.Config),
	}
	var err error
	if j.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return core.CronJob{}, fmt.Errorf("job %q created_at: %w", row.Name, err)
	}
	if j.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return core.CronJob{}, fmt.Errorf("job %q updated_at: %w", row.Name, err)
	}
	if row.LastRunAt.Valid {
		t, err := parseTime(row.LastRunAt.String)
		if err != nil {
			return core.CronJob{}, fmt.Errorf("job %q last_run_at: %w", row.Name, err)
		}
		j.LastRunAt = &t
	}
	return j, nil
}

func logsToDomain(rows []logRow) ([]core.CronJobLog, error) {
	out := make([]core.CronJobLog, 0, len(rows))
	for _, row := range rows {
		started, err := parseTime(row.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("log %d started_at: %w", row.ID, err)
		}
		l := core.CronJobLog{
			ID:           row.ID,
			JobName:      row.JobName,
			Status:       core.JobStatus(row.Status),
			StartedAt:    started,
			Duration:     time.Duration(row.DurationMs) * time.Millisecond,
			ErrorMessage: row.ErrorMessage,
		}
		if row.CompletedAt.Valid {
			t, err := parseTime(row.CompletedAt.String)
			if err != nil {
				return nil, fmt.Errorf("log %d completed_at: %w", row.ID, err)
			}
			l.CompletedAt = &t
		}
		if row.Result.Valid {
			l.Result = json.RawMessage(row.Result.String)
		}
		out = append(out, l)
	}
	return out, nil
}

func marshalCredentials(c map[string]core.EncryptedField) (string, error) {
	if c == nil {
		c = map[string]core.EncryptedField{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(b), nil
}

func unmarshalCredentials(s string) (map[string]core.EncryptedField, error) {
	creds := map[string]core.EncryptedField{}
	if s == "" {
		return creds, nil
	}
	if err := json.Unmarshal([]byte(s), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
