package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/lifecycle/internal/types"
)

// Catalog is the read side of the event type registry.
type Catalog interface {
	EventTypes() []types.EventTypeDefinition
	EventType(id string) (types.EventTypeDefinition, bool)
	EventTypesByCategory(category string) []types.EventTypeDefinition
	Templates(typeID string) []types.CommunicationTemplate
}

// EventTypeHandler serves the event type catalog.
type EventTypeHandler struct {
	catalog Catalog
}

func NewEventTypeHandler(catalog Catalog) *EventTypeHandler {
	return &EventTypeHandler{catalog: catalog}
}

// ListEventTypes handles GET /v1/event-types[?category=].
func (h *EventTypeHandler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	var defs []types.EventTypeDefinition
	if c := r.URL.Query().Get("category"); c != "" {
		defs = h.catalog.EventTypesByCategory(c)
	} else {
		defs = h.catalog.EventTypes()
	}
	if defs == nil {
		defs = []types.EventTypeDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_types": defs})
}

// GetEventType handles GET /v1/event-types/{id}.
func (h *EventTypeHandler) GetEventType(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, ok := h.catalog.EventType(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown event type: "+id)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// ListTemplates handles GET /v1/event-types/{id}/templates.
func (h *EventTypeHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.catalog.EventType(id); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown event type: "+id)
		return
	}
	tpls := h.catalog.Templates(id)
	if tpls == nil {
		tpls = []types.CommunicationTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": tpls})
}
