// Package scheduler runs named recurring jobs whose schedule, enabled flag and
// statistics live in the job store.
//
// Each registered job owns at most one cron entry. A process-local guard keeps
// a job from overlapping with itself; a second trigger while it runs is
// skipped, never queued. Every execution opens a RUNNING log row and closes it
// as SUCCESS or FAILED even when the body fails or panics.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/storage"
)

const (
	ReasonAlreadyRunning = "Already running"
	ReasonDisabled       = "Job disabled"

	DefaultStuckThreshold = 2 * time.Minute
)

// JobFunc is a job body. The returned value is stored as the log's JSON result.
type JobFunc func(ctx context.Context) (any, error)

type JobDefinition struct {
	Name            string
	DefaultSchedule string
	Description     string
	// DefaultEnabled applies only when the job row does not exist yet.
	DefaultEnabled bool
}

type ExecutionResult struct {
	RunID     string          `json:"run_id,omitempty"`
	JobName   string          `json:"job_name"`
	LogID     int64           `json:"log_id,omitempty"`
	Status    core.JobStatus  `json:"status,omitempty"`
	Skipped   bool            `json:"skipped"`
	Reason    string          `json:"reason,omitempty"`
	Forced    bool            `json:"forced"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// JobState is a persisted job row plus its live in-process state.
type JobState struct {
	core.CronJob
	Registered bool       `json:"registered"`
	Running    bool       `json:"running"`
	Scheduled  bool       `json:"scheduled"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

type registeredJob struct {
	def       JobDefinition
	body      JobFunc
	entryID   cron.EntryID
	scheduled bool
}

type execution struct {
	runID string
	logID int64
}

type Scheduler struct {
	store          storage.JobStore
	cron           *cron.Cron
	logger         *log.Logger
	publisher      EventPublisher
	stuckThreshold time.Duration
	location       *time.Location
	now            func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	running map[string]*execution
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

func WithStuckThreshold(d time.Duration) Option {
	return func(s *Scheduler) { s.stuckThreshold = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

func New(store storage.JobStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		stuckThreshold: DefaultStuckThreshold,
		location:       time.Local,
		now:            time.Now,
		jobs:           make(map[string]*registeredJob),
		running:        make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.DefaultConfig())
	}
	s.logger = s.logger.WithComponent(log.ComponentScheduler)
	if s.publisher == nil {
		s.publisher = NewLogPublisher(s.logger)
	}
	s.cron = cron.New(cron.WithLocation(s.location))
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

func parseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, &core.InvalidScheduleError{Expression: expr, Err: err}
	}
	return sched, nil
}

// Register binds body to the job row named def.Name, creating the row when
// absent. The timer starts only if the persisted flag is enabled.
func (s *Scheduler) Register(ctx context.Context, def JobDefinition, body JobFunc) error {
	if def.Name == "" || body == nil {
		return errors.New("job name and body are required")
	}
	if _, err := parseSchedule(def.DefaultSchedule); err != nil {
		return err
	}

	s.mu.Lock()
	_, dup := s.jobs[def.Name]
	s.mu.Unlock()
	if dup {
		return fmt.Errorf("job %s is already registered", def.Name)
	}

	job, err := s.store.EnsureJob(ctx, core.CronJob{
		Name:        def.Name,
		Schedule:    def.DefaultSchedule,
		Description: def.Description,
		IsEnabled:   def.DefaultEnabled,
	})
	if err != nil {
		return fmt.Errorf("ensure job %s: %w", def.Name, err)
	}

	rj := &registeredJob{def: def, body: body}
	s.mu.Lock()
	s.jobs[def.Name] = rj
	s.mu.Unlock()

	if !job.IsEnabled {
		s.logger.InfoContext(ctx, "Job registered (stopped)", log.FieldJobName, def.Name, "schedule", job.Schedule)
		return nil
	}

	sched, err := parseSchedule(job.Schedule)
	if err != nil {
		s.logger.ErrorContext(ctx, "Persisted schedule is invalid, job left stopped",
			log.FieldJobName, def.Name, log.FieldError, err)
		return err
	}
	s.mu.Lock()
	s.scheduleLocked(rj, sched)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Job registered", log.FieldJobName, def.Name, "schedule", job.Schedule)
	return nil
}

func (s *Scheduler) scheduleLocked(rj *registeredJob, sched cron.Schedule) {
	name := rj.def.Name
	rj.entryID = s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.ExecuteJob(s.baseCtx, name, false); err != nil {
			s.logger.Error("Scheduled execution failed", log.FieldJobName, name, log.FieldError, err)
		}
	}))
	rj.scheduled = true
}

func (s *Scheduler) unscheduleLocked(rj *registeredJob) {
	s.cron.Remove(rj.entryID)
	rj.entryID = 0
	rj.scheduled = false
}

// Run starts the timers.
func (s *Scheduler) Run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
}

// Shutdown stops the timers and waits for running bodies. When ctx expires
// first, bodies are cancelled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.WarnContext(ctx, "Scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (s *Scheduler) lookup(name string) (*registeredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", name, core.ErrJobNotFound)
	}
	return rj, nil
}

// ExecuteJob runs the job body once. Unless forced, a disabled job is
// skipped. A job already running in this process is always skipped. The
// body's error is returned after the log and counters are written.
func (s *Scheduler) ExecuteJob(ctx context.Context, name string, forced bool) (*ExecutionResult, error) {
	rj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	if !forced {
		job, err := s.store.GetJob(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", name, err)
		}
		if !job.IsEnabled {
			s.logger.DebugContext(ctx, "Skipping disabled job", log.FieldJobName, name)
			return &ExecutionResult{JobName: name, Skipped: true, Reason: ReasonDisabled}, nil
		}
	}

	exec := &execution{runID: uuid.NewString()}
	s.mu.Lock()
	if _, busy := s.running[name]; busy {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Skipping overlapping execution", log.FieldJobName, name)
		return &ExecutionResult{JobName: name, Skipped: true, Reason: ReasonAlreadyRunning, Forced: forced}, nil
	}
	s.running[name] = exec
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		s.wg.Done()
	}()

	logger := s.logger.With(log.FieldJobName, name, log.FieldRunID, exec.runID)
	started := s.now()

	logID, err := s.store.CreateLog(ctx, name, started)
	if err != nil {
		return nil, fmt.Errorf("open execution log for %s: %w", name, err)
	}
	s.mu.Lock()
	exec.logID = logID
	s.mu.Unlock()

	logger.InfoContext(ctx, "Execution started", log.FieldLogID, logID, "forced", forced)

	value, bodyErr := invoke(ctx, rj.body)
	duration := s.now().Sub(started)

	res := &ExecutionResult{
		RunID:     exec.runID,
		JobName:   name,
		LogID:     logID,
		Status:    core.JobStatusSuccess,
		Forced:    forced,
		StartedAt: started,
		Duration:  duration,
	}
	if bodyErr != nil {
		res.Status = core.JobStatusFailed
		res.Error = bodyErr.Error()
	}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			logger.WarnContext(ctx, "Job result is not JSON encodable", log.FieldError, err)
		} else {
			res.Result = raw
		}
	}

	// Bookkeeping must land even if the caller's context is gone.
	bctx := context.WithoutCancel(ctx)
	completed := started.Add(duration)
	var bookErr error
	if err := s.store.CloseLog(bctx, logID, storage.LogCompletion{
		Status:       res.Status,
		CompletedAt:  completed,
		Duration:     duration,
		Result:       res.Result,
		ErrorMessage: res.Error,
	}); err != nil {
		bookErr = errors.Join(bookErr, fmt.Errorf("close execution log: %w", err))
	}
	if err := s.store.RecordJobRun(bctx, name, res.Status, started, duration); err != nil {
		bookErr = errors.Join(bookErr, fmt.Errorf("record job run: %w", err))
	}
	if bookErr != nil {
		logger.ErrorContext(ctx, "Job bookkeeping failed", log.FieldError, bookErr)
	}

	if err := s.publisher.PublishJobEvent(bctx, core.JobEvent{
		RunID:       exec.runID,
		JobName:     name,
		LogID:       logID,
		Status:      res.Status,
		Forced:      forced,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  duration.Milliseconds(),
		Error:       res.Error,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish job event", log.FieldError, err)
	}

	if bodyErr != nil {
		logger.ErrorContext(ctx, "Job failed", log.FieldDuration, duration.Milliseconds(), log.FieldError, bodyErr)
		return res, fmt.Errorf("job %s: %w", name, bodyErr)
	}
	logger.InfoContext(ctx, "Job completed", log.FieldDuration, duration.Milliseconds())
	return res, bookErr
}

func invoke(ctx context.Context, body JobFunc) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("job panicked: %v", r)
		}
	}()
	return body(ctx)
}

// Start enables the job and starts its timer. Starting a scheduled job is a no-op.
func (s *Scheduler) Start(ctx context.Context, name string) error {
	rj, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	scheduled := rj.scheduled
	s.mu.Unlock()
	if scheduled {
		s.logger.WarnContext(ctx, "Job already started", log.FieldJobName, name)
		return nil
	}

	job, err := s.store.GetJob(ctx, name)
	if err != nil {
		return fmt.Errorf("load job %s: %w", name, err)
	}
	sched, err := parseSchedule(job.Schedule)
	if err != nil {
		return err
	}
	if err := s.store.SetJobEnabled(ctx, name, true); err != nil {
		return fmt.Errorf("enable job %s: %w", name, err)
	}

	s.mu.Lock()
	if !rj.scheduled {
		s.scheduleLocked(rj, sched)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Job started", log.FieldJobName, name, "schedule", job.Schedule)
	return nil
}

// Stop disables the job and removes its timer. A running execution finishes
// normally. Stopping a stopped job is a no-op.
func (s *Scheduler) Stop(ctx context.Context, name string) error {
	rj, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	scheduled := rj.scheduled
	s.mu.Unlock()
	if !scheduled {
		s.logger.WarnContext(ctx, "Job already stopped", log.FieldJobName, name)
		return nil
	}

	if err := s.store.SetJobEnabled(ctx, name, false); err != nil {
		return fmt.Errorf("disable job %s: %w", name, err)
	}

	s.mu.Lock()
	if rj.scheduled {
		s.unscheduleLocked(rj)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Job stopped", log.FieldJobName, name)
	return nil
}

// RunNow executes the job immediately, even if it is disabled or stopped. The
// overlap guard still applies.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*ExecutionResult, error) {
	return s.ExecuteJob(ctx, name, true)
}

// UpdateSchedule validates and persists expr, then swaps the timer if the job
// is scheduled. A running execution is not interrupted.
func (s *Scheduler) UpdateSchedule(ctx context.Context, name, expr string) error {
	sched, err := parseSchedule(expr)
	if err != nil {
		return err
	}
	rj, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := s.store.SetJobSchedule(ctx, name, expr); err != nil {
		return fmt.Errorf("update schedule for %s: %w", name, err)
	}

	s.mu.Lock()
	if rj.scheduled {
		s.unscheduleLocked(rj)
		s.scheduleLocked(rj, sched)
	}
	scheduled := rj.scheduled
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Job schedule updated", log.FieldJobName, name, "schedule", expr, "scheduled", scheduled)
	return nil
}

// ClearStuckJobs closes RUNNING logs older than the stuck threshold that no
// live execution in this process owns, and returns how many were closed.
func (s *Scheduler) ClearStuckJobs(ctx context.Context) (int, error) {
	return s.ClearStuckJobsOlderThan(ctx, s.stuckThreshold)
}

// ClearStuckJobsOlderThan is ClearStuckJobs with an explicit age. Executions
// owned by another process are invisible here, so callers outside the daemon
// should pass an age longer than any legitimate run.
func (s *Scheduler) ClearStuckJobsOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		return 0, fmt.Errorf("stuck age must be positive, got %s", age)
	}
	now := s.now()
	logs, err := s.store.ListRunningLogs(ctx, now.Add(-age))
	if err != nil {
		return 0, fmt.Errorf("list running logs: %w", err)
	}

	s.mu.Lock()
	live := make(map[int64]bool, len(s.running))
	for _, e := range s.running {
		live[e.logID] = true
	}
	s.mu.Unlock()

	cleared := 0
	for _, l := range logs {
		if live[l.ID] {
			continue
		}
		err := s.store.CloseLog(ctx, l.ID, storage.LogCompletion{
			Status:       core.JobStatusFailed,
			CompletedAt:  now,
			Duration:     now.Sub(l.StartedAt),
			Result:       json.RawMessage(`{"stuck":true}`),
			ErrorMessage: fmt.Sprintf("stuck: cleared after running longer than %s", age),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to clear stuck log",
				log.FieldJobName, l.JobName, log.FieldLogID, l.ID, log.FieldError, err)
			continue
		}
		cleared++
		s.logger.WarnContext(ctx, "Cleared stuck execution",
			log.FieldJobName, l.JobName, log.FieldLogID, l.ID, "started_at", l.StartedAt)
	}
	return cleared, nil
}

// ListJobs returns every persisted job with its live state.
func (s *Scheduler) ListJobs(ctx context.Context) ([]JobState, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobState, 0, len(jobs))
	for _, job := range jobs {
		st := JobState{CronJob: job}
		if rj, ok := s.jobs[job.Name]; ok {
			st.Registered = true
			st.Scheduled = rj.scheduled
			if rj.scheduled {
				if next := s.cron.Entry(rj.entryID).Next; !next.IsZero() {
					st.NextRun = &next
				}
			}
		}
		_, st.Running = s.running[job.Name]
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Scheduler) Logs(ctx context.Context, name string, limit int) ([]core.CronJobLog, error) {
	return s.store.ListLogs(ctx, storage.LogFilter{JobName: name, Limit: limit})
}

// ClearLogs deletes finished logs of one job; RUNNING rows are kept.
func (s *Scheduler) ClearLogs(ctx context.Context, name string) (int64, error) {
	if _, err := s.store.GetJob(ctx, name); err != nil {
		return 0, err
	}
	return s.store.DeleteLogs(ctx, name, time.Time{})
}

// PruneLogs deletes finished logs of every job older than retention.
func (s *Scheduler) PruneLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteLogs(ctx, "", s.now().Add(-retention))
}

func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[name]
	return ok
}
