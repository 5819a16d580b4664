package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"banksync/internal/core"
	"banksync/internal/scheduler"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type jobResponse struct {
	Name            string          `json:"name"`
	Schedule        string          `json:"schedule"`
	Description     string          `json:"description"`
	IsEnabled       bool            `json:"is_enabled"`
	Registered      bool            `json:"registered"`
	Running         bool            `json:"running"`
	Scheduled       bool            `json:"scheduled"`
	NextRun         *time.Time      `json:"next_run,omitempty"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	LastRunStatus   core.JobStatus  `json:"last_run_status,omitempty"`
	LastRunDuration int64           `json:"last_run_duration_ms"`
	RunCount        int64           `json:"run_count"`
	SuccessCount    int64           `json:"success_count"`
	ErrorCount      int64           `json:"error_count"`
	Config          json.RawMessage `json:"config,omitempty"`
}

func newJobResponse(st scheduler.JobState) jobResponse {
	return jobResponse{
		Name:            st.Name,
		Schedule:        st.Schedule,
		Description:     st.Description,
		IsEnabled:       st.IsEnabled,
		Registered:      st.Registered,
		Running:         st.Running,
		Scheduled:       st.Scheduled,
		NextRun:         st.NextRun,
		LastRunAt:       st.LastRunAt,
		LastRunStatus:   st.LastRunStatus,
		LastRunDuration: st.LastRunDuration.Milliseconds(),
		RunCount:        st.RunCount,
		SuccessCount:    st.SuccessCount,
		ErrorCount:      st.ErrorCount,
		Config:          st.Config,
	}
}

type logResponse struct {
	ID           int64           `json:"id"`
	JobName      string          `json:"job_name"`
	Status       core.JobStatus  `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func newLogResponse(l core.CronJobLog) logResponse {
	return logResponse{
		ID:           l.ID,
		JobName:      l.JobName,
		Status:       l.Status,
		StartedAt:    l.StartedAt,
		CompletedAt:  l.CompletedAt,
		DurationMs:   l.Duration.Milliseconds(),
		Result:       l.Result,
		ErrorMessage: l.ErrorMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		schedule *core.InvalidScheduleError
		unknown  *core.UnknownBankError
	)
	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.As(err, &schedule):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAccountInactive), errors.As(err, &unknown):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
