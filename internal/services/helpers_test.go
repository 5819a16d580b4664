package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"banksync/internal/banks"
	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/storage/sqlite"
	"banksync/internal/vault"
)

var testVault = func() *vault.Vault {
	v, err := vault.New("test-master-key", "test-salt")
	if err != nil {
		panic(err)
	}
	return v
}()

func newTestRepo(t *testing.T) *sqlite.SQLiteRepository {
	t.Helper()
	repo, err := sqlite.NewSQLiteRepository(filepath.Join(t.TempDir(), "banksync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createAccount(t *testing.T, repo *sqlite.SQLiteRepository, a core.BankAccount, creds map[string]string) int64 {
	t.Helper()
	sealed, err := testVault.EncryptFields(creds)
	if err != nil {
		t.Fatalf("EncryptFields: %v", err)
	}
	a.Credentials = sealed
	id, err := repo.CreateAccount(context.Background(), a)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// fakeAdapter returns queued errors from FetchTransactions before succeeding.
type fakeAdapter struct {
	mu sync.Mutex

	creds     banks.Credentials
	loginErr  error
	fetchErrs []error
	txs       []core.UnifiedTransaction
	listing   []core.AccountBalance
	listErr   error

	fetchCalls int
	identifier string
	start, end time.Time
}

func (f *fakeAdapter) Login(ctx context.Context) error {
	return f.loginErr
}

func (f *fakeAdapter) ListAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	return f.listing, f.listErr
}

func (f *fakeAdapter) FetchTransactions(ctx context.Context, id string, start, end time.Time) ([]core.UnifiedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	f.identifier, f.start, f.end = id, start, end
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return nil, err
	}
	out := make([]core.UnifiedTransaction, len(f.txs))
	copy(out, f.txs)
	return out, nil
}

func fakeRegistry(a *fakeAdapter) *banks.Registry {
	reg := banks.NewRegistry()
	reg.Register("fakebank", banks.Options{}, func(creds banks.Credentials, _ banks.Options) (banks.Adapter, error) {
		a.mu.Lock()
		a.creds = creds
		a.mu.Unlock()
		return a, nil
	})
	return reg
}

func testLogger() *log.Logger {
	return log.Discard()
}
