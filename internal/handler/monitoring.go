package handler

import (
	"context"
	"net/http"

	"github.com/matthewbaird/lifecycle/internal/monitor"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// Loop is the monitoring control surface used over HTTP.
type Loop interface {
	Stats() monitor.Stats
	RunOnce(ctx context.Context) monitor.PassResult
}

// AuditLog exposes the fallback engine's history.
type AuditLog interface {
	History() []types.FallbackRecord
	HistoryFor(eventID string) []types.FallbackRecord
}

// MonitoringHandler implements the monitoring endpoints.
type MonitoringHandler struct {
	loop  Loop
	audit AuditLog
}

func NewMonitoringHandler(loop Loop, audit AuditLog) *MonitoringHandler {
	return &MonitoringHandler{loop: loop, audit: audit}
}

// Stats handles GET /v1/monitoring/stats.
func (h *MonitoringHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loop.Stats())
}

// History handles GET /v1/monitoring/history[?event_id=].
func (h *MonitoringHandler) History(w http.ResponseWriter, r *http.Request) {
	var recs []types.FallbackRecord
	if id := r.URL.Query().Get("event_id"); id != "" {
		recs = h.audit.HistoryFor(id)
	} else {
		recs = h.audit.History()
	}
	if recs == nil {
		recs = []types.FallbackRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": recs})
}

// Run handles POST /v1/monitoring/run: one synchronous pass.
func (h *MonitoringHandler) Run(w http.ResponseWriter, r *http.Request) {
	res := h.loop.RunOnce(r.Context())
	if res.Fallbacks == nil {
		res.Fallbacks = []types.FallbackRecord{}
	}
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}
