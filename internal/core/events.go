package core

import "time"

// JobEvent is emitted after an execution's log row is closed.
type JobEvent struct {
	RunID       string    `json:"run_id"`
	JobName     string    `json:"job_name"`
	LogID       int64     `json:"log_id"`
	Status      JobStatus `json:"status"`
	Forced      bool      `json:"forced"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}
