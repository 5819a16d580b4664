// Package http exposes the job control API: health probes, job listing and
// control, execution logs and manual account syncs.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/middleware/ratelimit"
	"banksync/internal/middleware/security"
	"banksync/internal/middleware/trace"
	"banksync/internal/scheduler"
	"banksync/internal/worker"
)

// JobController is the scheduler surface the API drives.
type JobController interface {
	ListJobs(ctx context.Context) ([]scheduler.JobState, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	RunNow(ctx context.Context, name string) (*scheduler.ExecutionResult, error)
	UpdateSchedule(ctx context.Context, name, expr string) error
	Logs(ctx context.Context, name string, limit int) ([]core.CronJobLog, error)
	ClearLogs(ctx context.Context, name string) (int64, error)
	ClearStuckJobs(ctx context.Context) (int, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	http.Server
	jobs       JobController
	dispatcher worker.Dispatcher
	checks     []ReadinessCheck
	limiter    *ratelimit.Limiter
	logger     *log.Logger

	rateConfig   ratelimit.Config
	shutdownOnce sync.Once
}

type Option func(*Server)

func WithDispatcher(d worker.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

func WithReadinessCheck(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) { s.checks = append(s.checks, ReadinessCheck{Name: name, Check: check}) }
}

func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) { s.rateConfig = cfg }
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, jobs JobController, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &Server{
		jobs:       jobs,
		logger:     logger.WithComponent(log.ComponentHTTP),
		rateConfig: ratelimit.Config{RequestsPerMinute: 30},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = ratelimit.NewLimiter(s.rateConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs/clear-stuck", s.handleClearStuck)
	mux.HandleFunc("POST /api/jobs/{name}/start", s.handleStartJob)
	mux.HandleFunc("POST /api/jobs/{name}/stop", s.handleStopJob)
	mux.HandleFunc("POST /api/jobs/{name}/run", s.handleRunJob)
	mux.HandleFunc("PUT /api/jobs/{name}/schedule", s.handleUpdateSchedule)
	mux.HandleFunc("GET /api/jobs/{name}/logs", s.handleListLogs)
	mux.HandleFunc("DELETE /api/jobs/{name}/logs", s.handleClearLogs)

	mux.HandleFunc("POST /api/accounts/{id}/sync", s.handleSyncAccount)

	resolver, _ := security.NewClientIPResolver()
	limited := s.limiter.Middleware(resolver.ClientIP, isMutating, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, resolver.ClientIP(r),
			log.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})(mux)

	var handler http.Handler = limited
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = trace.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Manual triggers are expensive; reads are not limited.
func isMutating(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead
}

// Shutdown stops the limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "checks", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
