package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/store"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write_json_encode_failed", zap.Error(err))
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseLimit reads the limit query param, capped at max.
func parseLimit(r *http.Request, def, max int) int {
	n := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			n = p
		}
	}
	if n > max {
		n = max
	}
	return n
}

// parseTime reads an RFC 3339 query param. A malformed value is ignored.
func parseTime(r *http.Request, name string) *time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// errorToHTTP maps domain errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, event.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "TASK_NOT_FOUND", err.Error())
	case errors.Is(err, event.ErrTaskLocked):
		writeError(w, http.StatusConflict, "TASK_LOCKED", err.Error())
	case errors.Is(err, event.ErrTaskCompleted):
		writeError(w, http.StatusConflict, "TASK_COMPLETED", err.Error())
	case errors.Is(err, event.ErrEventTerminal):
		writeError(w, http.StatusConflict, "EVENT_TERMINAL", err.Error())
	case errors.Is(err, event.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		zap.L().Error("internal_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
