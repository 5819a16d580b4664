package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"

	"banksync/internal/core"
	"banksync/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "gorm.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveSyncResultDeduplicatesCaseInsensitively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateAccount(ctx, core.BankAccount{BankCode: "vakifbank", AccountNumber: "1", IsActive: true})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	bal := decimal.RequireFromString("5250")
	txs := []core.UnifiedTransaction{
		{BankRefID: "VB-77", TransactionDate: day, Amount: decimal.RequireFromString("1250"), Currency: "TRY", BalanceAfter: &bal},
		{BankRefID: "VB-78", TransactionDate: day, Amount: decimal.RequireFromString("-89.90"), Currency: "TRY"},
	}
	n, err := s.SaveSyncResult(ctx, id, txs, &bal, day)
	if err != nil || n != 2 {
		t.Fatalf("first save: n=%d err=%v", n, err)
	}

	txs[0].BankRefID = "vb-77"
	n, err = s.SaveSyncResult(ctx, id, txs, nil, day.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("second save: n=%d err=%v", n, err)
	}

	count, _ := s.CountTransactions(ctx, id)
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.LastBalance == nil || !acc.LastBalance.Equal(bal) {
		t.Fatalf("balance = %v", acc.LastBalance)
	}

	listed, err := s.ListTransactions(ctx, id, 0)
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListTransactions: %d err=%v", len(listed), err)
	}
}

func TestSaveSyncResultUnknownAccount(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveSyncResult(context.Background(), 42, nil, nil, time.Now())
	if !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCredentialFieldUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateAccount(ctx, core.BankAccount{BankCode: "halkbank", IsActive: true})

	if err := s.UpdateCredentialField(ctx, id, "password", core.EncryptedField{Ciphertext: []byte("c")}); err != nil {
		t.Fatalf("UpdateCredentialField: %v", err)
	}
	acc, _ := s.GetAccount(ctx, id)
	if string(acc.Credentials["password"].Ciphertext) != "c" {
		t.Fatalf("credentials = %+v", acc.Credentials)
	}
}

func TestJobsAndLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureJob(ctx, core.CronJob{Name: "bankSyncJob", Schedule: "0 */4 * * *", IsEnabled: false}); err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	job, err := s.EnsureJob(ctx, core.CronJob{Name: "bankSyncJob", Schedule: "* * * * *", IsEnabled: true})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if job.IsEnabled || job.Schedule != "0 */4 * * *" {
		t.Fatalf("existing job overwritten: %+v", job)
	}

	now := time.Now()
	if err := s.RecordJobRun(ctx, "bankSyncJob", core.JobStatusSuccess, now, 2*time.Second); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}
	job, _ = s.GetJob(ctx, "bankSyncJob")
	if job.RunCount != 1 || job.SuccessCount != 1 || job.ErrorCount != 0 {
		t.Fatalf("counters = %+v", job)
	}

	stuck, _ := s.CreateLog(ctx, "bankSyncJob", now.Add(-5*time.Minute))
	_, _ = s.CreateLog(ctx, "bankSyncJob", now)

	running, err := s.ListRunningLogs(ctx, now.Add(-2*time.Minute))
	if err != nil || len(running) != 1 || running[0].ID != stuck {
		t.Fatalf("ListRunningLogs = %+v err=%v", running, err)
	}

	if err := s.CloseLog(ctx, stuck, storage.LogCompletion{Status: core.JobStatusRunning, CompletedAt: now}); err == nil {
		t.Fatal("closing with RUNNING should fail")
	}
	if err := s.CloseLog(ctx, stuck, storage.LogCompletion{Status: core.JobStatusFailed, CompletedAt: now, ErrorMessage: "stuck"}); err != nil {
		t.Fatalf("CloseLog: %v", err)
	}
	failed, _ := s.ListLogs(ctx, storage.LogFilter{Status: core.JobStatusFailed})
	if len(failed) != 1 || failed[0].ErrorMessage != "stuck" {
		t.Fatalf("failed logs = %+v", failed)
	}

	n, err := s.DeleteLogs(ctx, "bankSyncJob", time.Time{})
	if err != nil || n != 1 {
		t.Fatalf("DeleteLogs: n=%d err=%v", n, err)
	}

	if err := s.SetJobSchedule(ctx, "nope", "* * * * *"); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
