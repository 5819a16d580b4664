package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"banksync/internal/log"
	"banksync/internal/services"
)

type syncRequest struct {
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`
}

func parseDay(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

// handleSyncAccount syncs one account now, or enqueues it when the queue
// path is active. The response reports which one happened.
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "account sync is not available")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "account id must be a positive integer")
		return
	}

	var req syncRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	var opts services.SyncOptions
	if opts.Start, err = parseDay("start", req.Start); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.End, err = parseDay("end", req.End); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !opts.End.IsZero() {
		// inclusive end day
		opts.End = opts.End.Add(24*time.Hour - time.Nanosecond)
	}

	logger := log.FromContext(ctx).With(log.FieldAccountID, id, "mode", s.dispatcher.Mode())
	res, err := s.dispatcher.Dispatch(ctx, id, opts)
	if err != nil {
		logger.ErrorContext(ctx, "Manual account sync failed", log.FieldError, err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	logger.InfoContext(ctx, "Manual account sync dispatched", "queued", res.Queued)
	writeJSON(w, status, res)
}
