package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// bank_accounts

const accountColumns = `id, institution_id, bank_code, account_number, iban, currency,
	credentials, is_active, last_balance, last_balance_update`

type accountRow struct {
	ID                int64
	InstitutionID     int64
	BankCode          string
	AccountNumber     string
	IBAN              string
	Currency          string
	Credentials       string
	IsActive          bool
	LastBalance       sql.NullString
	LastBalanceUpdate sql.NullString
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s rowScanner) (accountRow, error) {
	var r accountRow
	err := s.Scan(&r.ID, &r.InstitutionID, &r.BankCode, &r.AccountNumber, &r.IBAN, &r.Currency,
		&r.Credentials, &r.IsActive, &r.LastBalance, &r.LastBalanceUpdate)
	return r, err
}

func (q *Queries) GetAccount(ctx context.Context, id int64) (accountRow, error) {
	return scanAccount(q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE id = ?`, id))
}

func (q *Queries) ListActiveAccounts(ctx context.Context) ([]accountRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []accountRow
	for rows.Next() {
		r, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type CreateAccountParams struct {
	InstitutionID int64
	BankCode      string
	AccountNumber string
	IBAN          string
	Currency      string
	Credentials   string
	IsActive      bool
	Now           string
}

func (q *Queries) CreateAccount(ctx context.Context, p CreateAccountParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (institution_id, bank_code, account_number, iban, currency,
			credentials, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.InstitutionID, p.BankCode, p.AccountNumber, p.IBAN, p.Currency,
		p.Credentials, p.IsActive, p.Now, p.Now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) SetCredentials(ctx context.Context, id int64, credentials, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE bank_accounts SET credentials = ?, updated_at = ? WHERE id = ?`, credentials, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetBalance(ctx context.Context, id int64, balance sql.NullString, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bank_accounts
		SET last_balance = COALESCE(?, last_balance), last_balance_update = ?, updated_at = ?
		WHERE id = ?`, balance, at, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// bank_transactions

type InsertTransactionParams struct {
	AccountID       int64
	BankRefID       string
	TransactionDate string
	Amount          string
	Currency        string
	Description     string
	Counterparty    sql.NullString
	BalanceAfter    sql.NullString
	RawResponse     string
	CreatedAt       string
}

// InsertTransactionIfAbsent reports whether a row was written.
func (q *Queries) InsertTransactionIfAbsent(ctx context.Context, p InsertTransactionParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (account_id, bank_ref_id, transaction_date, amount, currency,
			description, counterparty, balance_after, raw_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, bank_ref_id) DO NOTHING`,
		p.AccountID, p.BankRefID, p.TransactionDate, p.Amount, p.Currency,
		p.Description, p.Counterparty, p.BalanceAfter, p.RawResponse, p.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (q *Queries) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bank_transactions WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

type transactionRow struct {
	BankRefID       string
	TransactionDate string
	Amount          string
	Currency        string
	Description     string
	Counterparty    sql.NullString
	BalanceAfter    sql.NullString
	RawResponse     string
}

func (q *Queries) ListTransactions(ctx context.Context, accountID int64, limit int) ([]transactionRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT bank_ref_id, transaction_date, amount, currency, description, counterparty,
			balance_after, raw_response
		FROM bank_transactions WHERE account_id = ?
		ORDER BY transaction_date DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transactionRow
	for rows.Next() {
		var r transactionRow
		if err := rows.Scan(&r.BankRefID, &r.TransactionDate, &r.Amount, &r.Currency, &r.Description,
			&r.Counterparty, &r.BalanceAfter, &r.RawResponse); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// cron_jobs

const jobColumns = `name, schedule, description, is_enabled, last_run_at, last_run_status,
	last_run_duration_ms, run_count, success_count, error_count, config, created_at, updated_at`

type jobRow struct {
	Name              string
	Schedule          string
	Description       string
	IsEnabled         bool
	LastRunAt         sql.NullString
	LastRunStatus     string
	LastRunDurationMs int64
	RunCount          int64
	SuccessCount      int64
	ErrorCount        int64
	Config            string
	CreatedAt         string
	UpdatedAt         string
}

func scanJob(s rowScanner) (jobRow, error) {
	var r jobRow
	err := s.Scan(&r.Name, &r.Schedule, &r.Description, &r.IsEnabled, &r.LastRunAt, &r.LastRunStatus,
		&r.LastRunDurationMs, &r.RunCount, &r.SuccessCount, &r.ErrorCount, &r.Config, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) GetJob(ctx context.Context, name string) (jobRow, error) {
	return scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM cron_jobs WHERE name = ?`, name))
}

func (q *Queries) ListJobs(ctx context.Context) ([]jobRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM cron_jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobRow
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type InsertJobParams struct {
	Name        string
	Schedule    string
	Description string
	IsEnabled   bool
	Config      string
	Now         string
}

func (q *Queries) InsertJobIfAbsent(ctx context.Context, p InsertJobParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (name, schedule, description, is_enabled, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`,
		p.Name, p.Schedule, p.Description, p.IsEnabled, p.Config, p.Now, p.Now)
	return err
}

func (q *Queries) SetJobEnabled(ctx context.Context, name string, enabled bool, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE cron_jobs SET is_enabled = ?, updated_at = ? WHERE name = ?`, enabled, now, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetJobSchedule(ctx context.Context, name, schedule, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE cron_jobs SET schedule = ?, updated_at = ? WHERE name = ?`, schedule, now, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type RecordJobRunParams struct {
	Name       string
	Status     string
	StartedAt  string
	DurationMs int64
	Success    int64
	Failure    int64
	Now        string
}

func (q *Queries) RecordJobRun(ctx context.Context, p RecordJobRunParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE cron_jobs
		SET last_run_at = ?, last_run_status = ?, last_run_duration_ms = ?,
			run_count = run_count + 1,
			success_count = success_count + ?,
			error_count = error_count + ?,
			updated_at = ?
		WHERE name = ?`,
		p.StartedAt, p.Status, p.DurationMs, p.Success, p.Failure, p.Now, p.Name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// cron_job_logs

const logColumns = `id, job_name, status, started_at, completed_at, duration_ms, result, error_message`

type logRow struct {
	ID           int64
	JobName      string
	Status       string
	StartedAt    string
	CompletedAt  sql.NullString
	DurationMs   int64
	Result       sql.NullString
	ErrorMessage string
}

func scanLog(s rowScanner) (logRow, error) {
	var r logRow
	err := s.Scan(&r.ID, &r.JobName, &r.Status, &r.StartedAt, &r.CompletedAt, &r.DurationMs, &r.Result, &r.ErrorMessage)
	return r, err
}

func (q *Queries) CreateLog(ctx context.Context, jobName, startedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO cron_job_logs (job_name, status, started_at) VALUES (?, 'RUNNING', ?)`, jobName, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type CloseLogParams struct {
	ID           int64
	Status       string
	CompletedAt  string
	DurationMs   int64
	Result       sql.NullString
	ErrorMessage string
}

// CloseLog only touches rows still RUNNING, so a log closed by the stuck-job
// sweeper is not overwritten by a late finisher and vice versa.
func (q *Queries) CloseLog(ctx context.Context, p CloseLogParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE cron_job_logs
		SET status = ?, completed_at = ?, duration_ms = ?, result = ?, error_message = ?
		WHERE id = ? AND status = 'RUNNING'`,
		p.Status, p.CompletedAt, p.DurationMs, p.Result, p.ErrorMessage, p.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) queryLogs(ctx context.Context, query string, args ...interface{}) ([]logRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logRow
	for rows.Next() {
		r, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) ListLogs(ctx context.Context, jobName, status string, limit int) ([]logRow, error) {
	return q.queryLogs(ctx, `
		SELECT `+logColumns+` FROM cron_job_logs
		WHERE (? = '' OR job_name = ?) AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id DESC LIMIT ?`,
		jobName, jobName, status, status, limit)
}

func (q *Queries) ListRunningLogs(ctx context.Context, startedBefore string) ([]logRow, error) {
	return q.queryLogs(ctx, `
		SELECT `+logColumns+` FROM cron_job_logs
		WHERE status = 'RUNNING' AND started_at < ?
		ORDER BY started_at`, startedBefore)
}

func (q *Queries) DeleteLogs(ctx context.Context, jobName, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM cron_job_logs
		WHERE status <> 'RUNNING'
			AND (? = '' OR job_name = ?)
			AND (? = '' OR started_at < ?)`,
		jobName, jobName, before, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
