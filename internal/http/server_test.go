package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/middleware/ratelimit"
	"banksync/internal/scheduler"
	"banksync/internal/services"
	"banksync/internal/storage/sqlite"
	"banksync/internal/worker"
)

type fakeDispatcher struct {
	mode string
	err  error
	got  services.SyncOptions
}

func (d *fakeDispatcher) Mode() string { return d.mode }

func (d *fakeDispatcher) Dispatch(ctx context.Context, id int64, opts services.SyncOptions) (worker.DispatchResult, error) {
	d.got = opts
	if d.err != nil {
		return worker.DispatchResult{}, d.err
	}
	if d.mode == worker.ModeQueue {
		return worker.DispatchResult{Mode: d.mode, AccountID: id, Queued: true, MessageID: "m-1"}, nil
	}
	return worker.DispatchResult{Mode: d.mode, AccountID: id, Result: &services.SyncResult{AccountID: id, NewTransactions: 4}}, nil
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	repo, err := sqlite.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	s := scheduler.New(repo, scheduler.WithLogger(log.Discard()), scheduler.WithLocation(time.UTC))
	ctx := context.Background()
	register := func(name string, body scheduler.JobFunc) {
		if err := s.Register(ctx, scheduler.JobDefinition{Name: name, DefaultSchedule: "0 */4 * * *", DefaultEnabled: true}, body); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	register("bankSyncJob", func(ctx context.Context) (any, error) {
		return map[string]int{"accounts": 3}, nil
	})
	register("brokenJob", func(ctx context.Context) (any, error) {
		return nil, errors.New("bank offline")
	})
	return s
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	// Generous default so only the dedicated test trips the limiter.
	opts = append([]Option{WithRateLimit(ratelimit.Config{RequestsPerMinute: 6000, Burst: 100})}, opts...)
	srv := NewServer(":0", newTestScheduler(t), log.Discard(), opts...)
	t.Cleanup(func() { srv.limiter.Stop() })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	failing := newTestServer(t, WithReadinessCheck("database", func(ctx context.Context) error {
		return errors.New("database is locked")
	}))
	rr := do(t, failing, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "database is locked") {
		t.Fatalf("readyz = %d %s", rr.Code, rr.Body.String())
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/jobs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing middleware headers: %v", rr.Header())
	}

	body := decode[struct {
		Jobs []jobResponse `json:"jobs"`
	}](t, rr)
	if len(body.Jobs) != 2 || body.Jobs[0].Name != "bankSyncJob" || !body.Jobs[0].Scheduled || !body.Jobs[0].IsEnabled {
		t.Fatalf("jobs = %+v", body.Jobs)
	}
}

func TestRunJob(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("run status=%d body=%s", rr.Code, rr.Body.String())
	}
	ok := decode[map[string]any](t, rr)
	if ok["status"] != "SUCCESS" || ok["run_id"] == "" {
		t.Errorf("run body = %v", ok)
	}

	rr = do(t, srv, http.MethodPost, "/api/jobs/brokenJob/run", "")
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "bank offline") {
		t.Fatalf("failed run = %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/api/jobs/ghost/run", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job status=%d", rr.Code)
	}

	logs := do(t, srv, http.MethodGet, "/api/jobs/brokenJob/logs?limit=5", "")
	body := decode[struct {
		Logs []logResponse `json:"logs"`
	}](t, logs)
	if len(body.Logs) != 1 || body.Logs[0].Status != core.JobStatusFailed || body.Logs[0].ErrorMessage != "bank offline" {
		t.Fatalf("logs = %+v", body.Logs)
	}
}

func TestUpdateSchedule(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name     string
		job      string
		body     string
		wantCode int
	}{
		{name: "valid", job: "bankSyncJob", body: `{"schedule":"*/5 * * * *"}`, wantCode: http.StatusOK},
		{name: "invalid expression", job: "bankSyncJob", body: `{"schedule":"every now and then"}`, wantCode: http.StatusBadRequest},
		{name: "missing schedule", job: "bankSyncJob", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "unknown field", job: "bankSyncJob", body: `{"cron":"* * * * *"}`, wantCode: http.StatusBadRequest},
		{name: "unknown job", job: "ghost", body: `{"schedule":"* * * * *"}`, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPut, "/api/jobs/"+tt.job+"/schedule", tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}

	jobs := decode[struct {
		Jobs []jobResponse `json:"jobs"`
	}](t, do(t, srv, http.MethodGet, "/api/jobs", ""))
	if jobs.Jobs[0].Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", jobs.Jobs[0].Schedule)
	}
}

func TestStartStopAndLogs(t *testing.T) {
	srv := newTestServer(t)

	if rr := do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/stop", ""); rr.Code != http.StatusOK {
		t.Fatalf("stop status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/stop", ""); rr.Code != http.StatusOK {
		t.Fatalf("second stop status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/start", ""); rr.Code != http.StatusOK {
		t.Fatalf("start status=%d", rr.Code)
	}

	do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/run", "")
	do(t, srv, http.MethodPost, "/api/jobs/bankSyncJob/run", "")

	if rr := do(t, srv, http.MethodGet, "/api/jobs/bankSyncJob/logs?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status=%d", rr.Code)
	}

	rr := do(t, srv, http.MethodDelete, "/api/jobs/bankSyncJob/logs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("clear logs status=%d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["deleted"]; got != float64(2) {
		t.Errorf("deleted = %v", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/jobs/clear-stuck", "")
	if rr.Code != http.StatusOK || decode[map[string]any](t, rr)["cleared"] != float64(0) {
		t.Errorf("clear-stuck = %d %s", rr.Code, rr.Body.String())
	}
}

func TestSyncAccount(t *testing.T) {
	tests := []struct {
		name     string
		d        *fakeDispatcher
		path     string
		body     string
		wantCode int
	}{
		{name: "direct", d: &fakeDispatcher{mode: worker.ModeDirect}, path: "/api/accounts/7/sync", wantCode: http.StatusOK},
		{name: "queued", d: &fakeDispatcher{mode: worker.ModeQueue}, path: "/api/accounts/7/sync", wantCode: http.StatusAccepted},
		{name: "with range", d: &fakeDispatcher{mode: worker.ModeDirect}, path: "/api/accounts/7/sync", body: `{"start":"2026-10-01","end":"2026-10-03"}`, wantCode: http.StatusOK},
		{name: "bad id", d: &fakeDispatcher{mode: worker.ModeDirect}, path: "/api/accounts/abc/sync", wantCode: http.StatusBadRequest},
		{name: "bad date", d: &fakeDispatcher{mode: worker.ModeDirect}, path: "/api/accounts/7/sync", body: `{"start":"01/10/2026"}`, wantCode: http.StatusBadRequest},
		{
			name:     "missing account",
			d:        &fakeDispatcher{mode: worker.ModeDirect, err: &core.SyncError{AccountID: 7, Err: core.ErrAccountNotFound}},
			path:     "/api/accounts/7/sync",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "bank failure",
			d:        &fakeDispatcher{mode: worker.ModeDirect, err: &core.SyncError{AccountID: 7, Err: &core.UpstreamError{Bank: "ziraat", Code: "E1", Description: "service unavailable"}}},
			path:     "/api/accounts/7/sync",
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, WithDispatcher(tt.d))
			rr := do(t, srv, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}

	d := &fakeDispatcher{mode: worker.ModeDirect}
	srv := newTestServer(t, WithDispatcher(d))
	do(t, srv, http.MethodPost, "/api/accounts/7/sync", `{"start":"2026-10-01","end":"2026-10-03"}`)
	if !d.got.Start.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) || d.got.End.Day() != 3 || d.got.End.Hour() != 23 {
		t.Errorf("forwarded window = %v..%v", d.got.Start, d.got.End)
	}

	noDispatcher := newTestServer(t)
	if rr := do(t, noDispatcher, http.MethodPost, "/api/accounts/7/sync", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("without dispatcher status=%d", rr.Code)
	}
}

func TestRateLimitAppliesToMutations(t *testing.T) {
	srv := newTestServer(t, WithRateLimit(ratelimit.Config{RequestsPerMinute: 60, Burst: 2}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodPost, "/api/jobs/clear-stuck", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if rr := do(t, srv, http.MethodGet, "/api/jobs", ""); rr.Code != http.StatusOK {
		t.Errorf("reads must not be limited, got %d", rr.Code)
	}
}
