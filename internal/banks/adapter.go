// Package banks defines the capability surface every bank integration
// presents to the synchronizer, and the registry that selects an
// implementation by bank code.
//
// Adding a bank means implementing Adapter in its own subpackage and
// registering a Factory under a new code; nothing above this layer changes.
package banks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"banksync/internal/core"
)

// Adapter translates one bank's wire protocol into unified records.
// Implementations issue a single request per call and never retry.
type Adapter interface {
	Login(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]core.AccountBalance, error)
	FetchTransactions(ctx context.Context, accountIdentifier string, start, end time.Time) ([]core.UnifiedTransaction, error)
}

// Doer is the subset of *http.Client adapters depend on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials are decrypted secret fields keyed by field name.
type Credentials map[string]string

var ErrMissingCredential = errors.New("missing credential")

// Require returns an error naming the first absent or blank key.
func (c Credentials) Require(keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(c[k]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredential, k)
		}
	}
	return nil
}

type Options struct {
	Endpoint string
	Client   Doer
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Factory func(creds Credentials, opts Options) (Adapter, error)

type registration struct {
	factory Factory
	opts    Options
}

// Registry maps bank codes to adapter factories. Codes are case-insensitive.
type Registry struct {
	mu    sync.RWMutex
	banks map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{banks: make(map[string]registration)}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (r *Registry) Register(code string, opts Options, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banks[normalizeCode(code)] = registration{factory: factory, opts: opts.withDefaults()}
}

// New builds an adapter for code. Unmapped codes yield *core.UnknownBankError.
func (r *Registry) New(code string, creds Credentials) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.banks[normalizeCode(code)]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.UnknownBankError{Code: code}
	}
	return reg.factory(creds, reg.opts)
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.banks))
	for c := range r.banks {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
