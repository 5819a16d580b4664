package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"banksync/internal/core"
	"banksync/internal/log"
)

type AccountLister interface {
	ListActiveAccounts(ctx context.Context) ([]core.BankAccount, error)
}

// AccountSyncer is the per-account unit of work the runner schedules.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID int64, opts SyncOptions) (SyncResult, error)
}

// BatchRunnerConfig holds configuration for the batch runner
type BatchRunnerConfig struct {
	// BatchSize is the number of accounts per sequential batch (default: 50)
	BatchSize int

	// MaxConcurrent caps in-flight syncs inside a batch (default: 10)
	MaxConcurrent int

	// Pacing is the delay before admitting each further task of a batch (default: 200ms)
	Pacing time.Duration

	// AccountTimeout bounds a single account sync (default: 90s)
	AccountTimeout time.Duration
}

func DefaultBatchRunnerConfig() BatchRunnerConfig {
	return BatchRunnerConfig{
		BatchSize:      50,
		MaxConcurrent:  10,
		Pacing:         200 * time.Millisecond,
		AccountTimeout: 90 * time.Second,
	}
}

// BatchRunner synchronizes every active account in sequential batches with
// bounded concurrency inside each batch. One account's failure never aborts
// another's.
type BatchRunner struct {
	accounts AccountLister
	syncer   AccountSyncer
	config   BatchRunnerConfig
	logger   *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBatchRunner(accounts AccountLister, syncer AccountSyncer, config BatchRunnerConfig, logger *log.Logger) *BatchRunner {
	defaults := DefaultBatchRunnerConfig()
	if config.BatchSize < 1 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.AccountTimeout <= 0 {
		config.AccountTimeout = defaults.AccountTimeout
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &BatchRunner{
		accounts: accounts,
		syncer:   syncer,
		config:   config,
		logger:   logger.WithComponent(log.ComponentBatch),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// RunAll returns an error only when the account list cannot be loaded; per-account
// failures are reported in the summary.
func (r *BatchRunner) RunAll(ctx context.Context) (core.RunSummary, error) {
	started := r.now()
	summary := core.RunSummary{StartedAt: started}

	accounts, err := r.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("load active accounts: %w", err)
	}
	summary.AccountsTotal = len(accounts)
	summary.Results = make([]core.SyncResult, 0, len(accounts))

	batches := (len(accounts) + r.config.BatchSize - 1) / r.config.BatchSize
	r.logger.InfoContext(ctx, "Starting batch run",
		"accounts", len(accounts),
		"batches", batches,
		"batch_size", r.config.BatchSize,
		"max_concurrent", r.config.MaxConcurrent)

	for b := 0; b < batches; b++ {
		lo := b * r.config.BatchSize
		hi := min(lo+r.config.BatchSize, len(accounts))

		results := r.runBatch(ctx, accounts[lo:hi])

		var batchSummary core.RunSummary
		for _, res := range results {
			batchSummary.Add(res)
			summary.Add(res)
		}
		r.logger.InfoContext(ctx, "Batch completed",
			"batch", b+1,
			"of", batches,
			"succeeded", batchSummary.Succeeded,
			"failed", batchSummary.Failed,
			log.FieldNewTx, batchSummary.NewTransactions)
	}

	summary.Duration = r.now().Sub(started)
	r.logger.InfoContext(ctx, "Batch run finished",
		"accounts", summary.AccountsTotal,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		log.FieldNewTx, summary.NewTransactions,
		log.FieldDuration, summary.Duration.Milliseconds())

	return summary, nil
}

func (r *BatchRunner) runBatch(ctx context.Context, accounts []core.BankAccount) []core.SyncResult {
	results := make([]core.SyncResult, len(accounts))

	var g errgroup.Group
	g.SetLimit(r.config.MaxConcurrent)

	for i, account := range accounts {
		if i > 0 && r.config.Pacing > 0 {
			if err := r.sleep(ctx, r.config.Pacing); err != nil {
				for j := i; j < len(accounts); j++ {
					results[j] = failedResult(accounts[j], &core.SyncError{AccountID: accounts[j].ID, Bank: accounts[j].BankCode, Err: err}, 0)
				}
				break
			}
		}

		// Go blocks until a slot frees up.
		g.Go(func() error {
			results[i] = r.syncOne(ctx, account)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// syncOne races the sync against its deadline so a call that ignores
// cancellation still fails only this account.
func (r *BatchRunner) syncOne(ctx context.Context, account core.BankAccount) core.SyncResult {
	started := r.now()
	actx, cancel := context.WithTimeout(ctx, r.config.AccountTimeout)
	defer cancel()

	type outcome struct {
		res SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.syncer.SyncAccount(actx, account.ID, SyncOptions{})
		done <- outcome{res, err}
	}()

	var (
		res SyncResult
		err error
	)
	select {
	case o := <-done:
		res, err = o.res, o.err
	case <-actx.Done():
		select {
		case o := <-done:
			res, err = o.res, o.err
		default:
			err = &core.SyncError{
				AccountID: account.ID,
				Bank:      account.BankCode,
				Err:       fmt.Errorf("account sync abandoned after %v: %w", r.config.AccountTimeout, actx.Err()),
			}
		}
	}
	elapsed := r.now().Sub(started)

	if err != nil {
		r.logger.WarnContext(ctx, "Account sync failed",
			log.FieldAccountID, account.ID,
			log.FieldBankCode, account.BankCode,
			log.FieldErrorKind, core.ErrorKind(err),
			log.FieldError, err)
		return failedResult(account, err, elapsed)
	}

	return core.SyncResult{
		AccountID:       account.ID,
		BankCode:        account.BankCode,
		Success:         true,
		NewTransactions: res.NewTransactions,
		Fetched:         res.Fetched,
		Balance:         res.UpdatedBalance,
		Duration:        elapsed,
	}
}

func failedResult(account core.BankAccount, err error, elapsed time.Duration) core.SyncResult {
	return core.SyncResult{
		AccountID: account.ID,
		BankCode:  account.BankCode,
		Error:     err.Error(),
		ErrorKind: core.ErrorKind(err),
		Duration:  elapsed,
	}
}
