package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"banksync/internal/banks"
	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/storage"
)

// Decrypter opens the sealed credential fields of an account.
type Decrypter interface {
	DecryptFields(fields map[string]core.EncryptedField) (map[string]string, error)
}

// AdapterFactory builds an adapter for a bank code.
type AdapterFactory interface {
	New(code string, creds banks.Credentials) (banks.Adapter, error)
}

// SynchronizerConfig holds configuration for the account synchronizer
type SynchronizerConfig struct {
	// WindowDays is the trailing window used when no range is given (default: 3)
	WindowDays int

	// MaxAttempts bounds tries per adapter call; only transport failures are retried (default: 2)
	MaxAttempts int

	// RetryBackoff is the first delay between attempts, doubled each time up to MaxBackoff
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func DefaultSynchronizerConfig() SynchronizerConfig {
	return SynchronizerConfig{
		WindowDays:   3,
		MaxAttempts:  2,
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   10 * time.Second,
	}
}

// SyncOptions narrows a sync to an explicit date range. Zero values fall back
// to the configured trailing window.
type SyncOptions struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

type SyncResult struct {
	AccountID       int64            `json:"account_id"`
	BankCode        string           `json:"bank_code"`
	Fetched         int              `json:"fetched"`
	NewTransactions int              `json:"new_transactions"`
	UpdatedBalance  *decimal.Decimal `json:"updated_balance,omitempty"`
}

// AccountSynchronizer pulls one account's movements from its bank and
// persists them idempotently.
type AccountSynchronizer struct {
	store    storage.AccountStore
	vault    Decrypter
	registry AdapterFactory
	config   SynchronizerConfig
	logger   *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewAccountSynchronizer(store storage.AccountStore, vault Decrypter, registry AdapterFactory, config SynchronizerConfig, logger *log.Logger) *AccountSynchronizer {
	if config.WindowDays < 1 {
		config.WindowDays = 3
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AccountSynchronizer{
		store:    store,
		vault:    vault,
		registry: registry,
		config:   config,
		logger:   logger.WithComponent(log.ComponentSync),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SyncAccount fetches the account's movements for the requested window,
// refreshes its cached balance and stores new transactions in one unit of
// work. Every failure is returned as *core.SyncError.
func (s *AccountSynchronizer) SyncAccount(ctx context.Context, accountID int64, opts SyncOptions) (SyncResult, error) {
	result := SyncResult{AccountID: accountID}
	fail := func(err error) (SyncResult, error) {
		return result, &core.SyncError{AccountID: accountID, Bank: result.BankCode, Err: err}
	}

	window, err := s.window(opts)
	if err != nil {
		return fail(err)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fail(err)
	}
	result.BankCode = account.BankCode
	if !account.IsActive {
		return fail(core.ErrAccountInactive)
	}

	creds, err := s.vault.DecryptFields(account.Credentials)
	if err != nil {
		return fail(err)
	}

	adapter, err := s.registry.New(account.BankCode, banks.Credentials(creds))
	if err != nil {
		return fail(err)
	}

	logger := s.logger.With(log.FieldAccountID, accountID, log.FieldBankCode, account.BankCode)

	if err := s.retry(ctx, logger, log.OpLogin, func() error {
		return adapter.Login(ctx)
	}); err != nil {
		return fail(err)
	}

	var txs []core.UnifiedTransaction
	if err := s.retry(ctx, logger, log.OpFetch, func() error {
		var fetchErr error
		txs, fetchErr = adapter.FetchTransactions(ctx, account.Identifier(), window.Start, window.End)
		return fetchErr
	}); err != nil {
		return fail(err)
	}
	result.Fetched = len(txs)

	for i := range txs {
		if txs[i].Currency == "" {
			txs[i].Currency = account.Currency
		}
	}

	balance := s.lookupBalance(ctx, logger, adapter, account)
	if balance == nil {
		balance = latestBalanceAfter(txs)
	}

	inserted, err := s.store.SaveSyncResult(ctx, accountID, txs, balance, s.now())
	if err != nil {
		return fail(fmt.Errorf("persist sync result: %w", err))
	}
	result.NewTransactions = inserted
	result.UpdatedBalance = balance

	logger.InfoContext(ctx, "Account synchronized",
		log.FieldFetched, result.Fetched,
		log.FieldNewTx, inserted,
		"window_start", window.Start.Format(time.DateOnly),
		"window_end", window.End.Format(time.DateOnly))

	return result, nil
}

func (s *AccountSynchronizer) window(opts SyncOptions) (core.DateRange, error) {
	now := s.now()
	switch {
	case opts.Start.IsZero() && opts.End.IsZero():
		return core.TrailingDays(now, s.config.WindowDays), nil
	case opts.End.IsZero():
		opts.End = now
	case opts.Start.IsZero():
		opts.Start = core.TrailingDays(opts.End, s.config.WindowDays).Start
	}
	r := core.DateRange{Start: opts.Start, End: opts.End}
	if err := r.Validate(); err != nil {
		return core.DateRange{}, err
	}
	return r, nil
}

// lookupBalance asks the bank for its account listing. Failure only costs the
// balance refresh, so it is logged and swallowed.
func (s *AccountSynchronizer) lookupBalance(ctx context.Context, logger *log.Logger, adapter banks.Adapter, account core.BankAccount) *decimal.Decimal {
	listing, err := adapter.ListAccounts(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Balance refresh failed",
			log.FieldOperation, log.OpBalance,
			log.FieldError, err,
			log.FieldErrorKind, core.ErrorKind(err))
		return nil
	}
	for _, row := range listing {
		if row.Matches(account) {
			b := row.Balance
			return &b
		}
	}
	logger.DebugContext(ctx, "Account not present in bank listing", "listed", len(listing))
	return nil
}

// latestBalanceAfter returns the running balance of the most recent movement.
func latestBalanceAfter(txs []core.UnifiedTransaction) *decimal.Decimal {
	var (
		latest *decimal.Decimal
		at     time.Time
	)
	for _, tx := range txs {
		if tx.BalanceAfter == nil {
			continue
		}
		if latest == nil || !tx.TransactionDate.Before(at) {
			b := *tx.BalanceAfter
			latest = &b
			at = tx.TransactionDate
		}
	}
	return latest
}

func (s *AccountSynchronizer) retry(ctx context.Context, logger *log.Logger, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !core.IsRetryable(err) || attempt >= s.config.MaxAttempts {
			return err
		}

		logger.WarnContext(ctx, "Transport failure, retrying",
			log.FieldOperation, op,
			log.FieldAttempt, attempt,
			log.FieldError, err)

		if sleepErr := s.sleep(ctx, backoff); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
		backoff *= 2
		if s.config.MaxBackoff > 0 && backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
