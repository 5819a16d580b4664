package http

import (
	"net/http"
	"strconv"
	"strings"

	"banksync/internal/log"
	"banksync/internal/scheduler"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to list jobs", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.jobs.Start(r.Context(), name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": true})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.jobs.Stop(r.Context(), name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": false})
}

type runResponse struct {
	*scheduler.ExecutionResult
	DurationMs int64 `json:"duration_ms"`
}

// handleRunJob executes the job synchronously. A skipped run (already
// running) answers 409; a failed body answers 500 with its message.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	logger := log.FromContext(ctx).With(log.FieldJobName, name)

	res, err := s.jobs.RunNow(ctx, name)
	if res == nil {
		logger.WarnContext(ctx, "Manual run rejected", log.FieldError, err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	body := runResponse{ExecutionResult: res, DurationMs: res.Duration.Milliseconds()}
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "Manual run failed", log.FieldRunID, res.RunID, log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, struct {
			runResponse
			Message string `json:"message"`
		}{body, err.Error()})
	case res.Skipped:
		writeJSON(w, http.StatusConflict, body)
	default:
		logger.InfoContext(ctx, "Manual run completed", log.FieldRunID, res.RunID)
		writeJSON(w, http.StatusOK, body)
	}
}

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req scheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	expr := strings.TrimSpace(req.Schedule)
	if expr == "" {
		writeError(w, http.StatusBadRequest, "schedule is required")
		return
	}

	if err := s.jobs.UpdateSchedule(r.Context(), name, expr); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "schedule": expr})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	logs, err := s.jobs.Logs(r.Context(), name, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, newLogResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_name": name, "logs": out})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := s.jobs.ClearLogs(r.Context(), name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_name": name, "deleted": n})
}

func (s *Server) handleClearStuck(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.ClearStuckJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}
