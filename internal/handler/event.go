package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/store"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// WorkingSet is the part of the monitor the event handlers mutate.
type WorkingSet interface {
	Add(ev *types.Event)
	Mutate(id string, fn func(ev *types.Event) error) (bool, error)
}

// EventHandler implements the event endpoints.
type EventHandler struct {
	catalog    Catalog
	events     store.EventStore
	working    WorkingSet
	activities activity.Store
	recorder   activity.Recorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewEventHandler(
	catalog Catalog,
	events store.EventStore,
	working WorkingSet,
	activities activity.Store,
	recorder activity.Recorder,
	logger *zap.Logger,
) *EventHandler {
	if recorder == nil {
		recorder = activity.Discard
	}
	return &EventHandler{
		catalog:    catalog,
		events:     events,
		working:    working,
		activities: activities,
		recorder:   recorder,
		logger:     logger.Named("events"),
		now:        time.Now,
	}
}

// CreateEventRequest is the body of POST /v1/events.
type CreateEventRequest struct {
	Type          string               `json:"type"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Date          string               `json:"date"`
	Time          string               `json:"time"`
	AssignedUsers []types.AssignedUser `json:"assigned_users"`
	Metadata      types.Metadata       `json:"metadata"`
}

// CreateEvent handles POST /v1/events.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Type == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "type and date are required")
		return
	}
	def, ok := h.catalog.EventType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "UNKNOWN_EVENT_TYPE", "unknown event type: "+req.Type)
		return
	}

	ev, err := event.New(def, event.Params{
		Title:         req.Title,
		Description:   req.Description,
		Date:          req.Date,
		Time:          req.Time,
		AssignedUsers: req.AssignedUsers,
		Metadata:      req.Metadata,
	}, h.now())
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	if err := h.events.Save(r.Context(), ev); err != nil {
		errorToHTTP(w, err)
		return
	}
	resp := ev.Clone()
	if h.working != nil {
		h.working.Add(ev)
	}
	h.record(r.Context(), activity.NewEntry(ev.ID, ev.Type, activity.KindEventCreated,
		"Event scheduled for "+event.Slot(ev), ev.CreatedAt, nil))

	writeJSON(w, http.StatusCreated, resp)
}

// GetEvent handles GET /v1/events/{id}.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListEvents handles GET /v1/events[?type=&status=&limit=].
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	evs, err := h.events.List(r.Context(), store.ListOptions{
		Type:   q.Get("type"),
		Status: types.EventStatus(q.Get("status")),
		Limit:  parseLimit(r, 100, 1000),
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	if evs == nil {
		evs = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// CompleteTask handles POST /v1/events/{id}/tasks/{taskID}/complete. Events in
// the monitor's working set are mutated between passes; others are loaded from
// the store.
func (h *EventHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID := chi.URLParam(r, "taskID")
	now := h.now()

	var updated *types.Event
	complete := func(ev *types.Event) error {
		if err := event.CompleteTask(ev, taskID, now); err != nil {
			return err
		}
		updated = ev.Clone()
		return nil
	}

	found := false
	if h.working != nil {
		var err error
		found, err = h.working.Mutate(id, complete)
		if err != nil {
			errorToHTTP(w, err)
			return
		}
	}
	if !found {
		ev, err := h.events.Get(r.Context(), id)
		if err != nil {
			errorToHTTP(w, err)
			return
		}
		if err := complete(ev); err != nil {
			errorToHTTP(w, err)
			return
		}
	}
	if err := h.events.Save(r.Context(), updated); err != nil {
		errorToHTTP(w, err)
		return
	}

	title := taskID
	for _, t := range updated.Tasks {
		if t.ID == taskID {
			title = t.Title
		}
	}
	h.record(r.Context(), activity.NewEntry(updated.ID, updated.Type, activity.KindTaskCompleted,
		"Completed "+title, now, map[string]string{"task_id": taskID}))

	writeJSON(w, http.StatusOK, updated)
}

// GetEventActivity handles GET /v1/events/{id}/activity.
func (h *EventHandler) GetEventActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := h.now()

	opts := activity.DefaultQueryOptions(now)
	if t := parseTime(r, "since"); t != nil {
		opts.Since = t
	}
	if t := parseTime(r, "until"); t != nil {
		opts.Until = t
	}
	if cats := r.URL.Query().Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if mw := r.URL.Query().Get("min_weight"); mw != "" {
		opts.MinWeight = mw
	}
	opts.Limit = parseLimit(r, 100, 500)
	opts.Cursor = r.URL.Query().Get("cursor")

	entries, next, total, err := h.activities.QueryByEvent(r.Context(), id, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}

	until := now
	if opts.Until != nil {
		until = *opts.Until
	}
	resp := struct {
		Activities []activity.Entry `json:"activities"`
		NextCursor string           `json:"next_cursor,omitempty"`
		TotalCount int              `json:"total_count"`
		Summary    activity.Summary `json:"summary"`
	}{
		Activities: entries,
		NextCursor: next,
		TotalCount: total,
		Summary:    activity.Summarize(entries, id, *opts.Since, until),
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchActivity handles GET /v1/activity/search?q=.
func (h *EventHandler) SearchActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "q is required")
		return
	}
	opts := activity.SearchOptions{
		EventType: q.Get("event_type"),
		Since:     parseTime(r, "since"),
		Limit:     parseLimit(r, 20, 100),
	}
	if cats := q.Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	entries, total, err := h.activities.Search(r.Context(), query, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SEARCH_FAILED", err.Error())
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": entries, "total_count": total})
}

func (h *EventHandler) record(ctx context.Context, e activity.Entry) {
	if err := h.recorder.Record(ctx, e); err != nil {
		h.logger.Warn("activity_record_failed", zap.String("event_id", e.EventID), zap.Error(err))
	}
}
