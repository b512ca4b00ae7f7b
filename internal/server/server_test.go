package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/conditions"
	"github.com/matthewbaird/lifecycle/internal/eventtype"
	"github.com/matthewbaird/lifecycle/internal/fallback"
	"github.com/matthewbaird/lifecycle/internal/followup"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/monitor"
	"github.com/matthewbaird/lifecycle/internal/notify"
	"github.com/matthewbaird/lifecycle/internal/store"
	"github.com/matthewbaird/lifecycle/internal/types"
	"github.com/matthewbaird/lifecycle/internal/wire"
)

type testEnv struct {
	srv      *httptest.Server
	events   *store.MemoryStore
	monitor  *monitor.Monitor
	activity *activity.MemoryStore
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	reg, err := eventtype.Load()
	require.NoError(t, err)

	m := metrics.New()
	events := store.NewMemoryStore()
	acts := activity.NewMemoryStore()
	rec := activity.NewStoreRecorder(acts)
	eval := conditions.New(logger, time.UTC)
	dispatcher := notify.NewLogDispatcher(logger)

	engine := fallback.New(reg, eval, dispatcher, fallback.DefaultAddresses(), logger,
		fallback.WithRecorder(rec), fallback.WithMetrics(m))
	sched := followup.New(reg, eval, dispatcher, followup.Property{Name: "Maple Court"}, logger,
		followup.WithRecorder(rec), followup.WithMetrics(m))
	mon := monitor.New(engine, sched, logger, monitor.WithStore(events), monitor.WithMetrics(m))
	hub := wire.NewHub(mon.Stats, logger)

	h := NewRouter(Deps{
		Catalog:  reg,
		Events:   events,
		Monitor:  mon,
		Audit:    engine,
		Activity: acts,
		Recorder: rec,
		Feed:     hub,
		Metrics:  m,
		Logger:   logger,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, events: events, monitor: mon, activity: acts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestEventTypes(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/event-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[struct {
		EventTypes []types.EventTypeDefinition `json:"event_types"`
	}](t, body)
	assert.Len(t, all.EventTypes, 9)

	_, body = env.do(t, http.MethodGet, "/v1/event-types?category=maintenance", nil)
	maint := decode[struct {
		EventTypes []types.EventTypeDefinition `json:"event_types"`
	}](t, body)
	require.Len(t, maint.EventTypes, 2)
	assert.Equal(t, types.TypeWorkOrder, maint.EventTypes[0].ID)

	resp, body = env.do(t, http.MethodGet, "/v1/event-types/tour", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tour", decode[types.EventTypeDefinition](t, body).ID)

	resp, body = env.do(t, http.MethodGet, "/v1/event-types/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[map[string]string](t, body)["code"])

	resp, body = env.do(t, http.MethodGet, "/v1/event-types/tour/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tpls := decode[struct {
		Templates []types.CommunicationTemplate `json:"templates"`
	}](t, body)
	assert.NotEmpty(t, tpls.Templates)
}

func TestCreateAndCompleteTasks(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type": "move-in",
		"date": "2099-06-10",
		"time": "10:00",
		"assigned_users": []map[string]string{
			{"id": "u1", "email": "resident@example.com", "role": "resident"},
		},
		"metadata": map[string]any{"unit": "4B"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	created := decode[types.Event](t, body)
	assert.Equal(t, "Move-In", created.Title)
	assert.Equal(t, types.StatusScheduled, created.Status)
	require.Len(t, created.Tasks, 5)
	assert.Len(t, env.monitor.Events(), 1)

	resp, body = env.do(t, http.MethodGet, "/v1/events/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[types.Event](t, body).ID)

	path := "/v1/events/" + created.ID + "/tasks/"
	resp, body = env.do(t, http.MethodPost, path+"unit-walkthrough/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "TASK_LOCKED", decode[map[string]string](t, body)["code"])

	resp, body = env.do(t, http.MethodPost, path+"renters-insurance/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	updated := decode[types.Event](t, body)
	assert.True(t, updated.Tasks[0].IsComplete)
	assert.Equal(t, types.TaskAvailable, updated.Tasks[3].Status)

	resp, body = env.do(t, http.MethodPost, path+"renters-insurance/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "TASK_COMPLETED", decode[map[string]string](t, body)["code"])

	resp, _ = env.do(t, http.MethodPost, path+"missing/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/events/"+created.ID+"/activity", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[struct {
		Activities []activity.Entry `json:"activities"`
		TotalCount int              `json:"total_count"`
	}](t, body)
	assert.Equal(t, 2, feed.TotalCount)
	kinds := []string{feed.Activities[0].Kind, feed.Activities[1].Kind}
	assert.ElementsMatch(t, []string{activity.KindEventCreated, activity.KindTaskCompleted}, kinds)

	resp, body = env.do(t, http.MethodGet, "/v1/activity/search?q=insurance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]any](t, body)["total_count"])
}

func TestCreateEventValidation(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/events", map[string]any{"type": "yacht-party", "date": "2025-06-10"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_EVENT_TYPE", decode[map[string]string](t, body)["code"])

	resp, body = env.do(t, http.MethodPost, "/v1/events", map[string]any{"type": "tour", "date": "June 10"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", decode[map[string]string](t, body)["code"])

	resp, _ = env.do(t, http.MethodPost, "/v1/events", map[string]any{"type": "tour"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/events/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEvents(t *testing.T) {
	env := newEnv(t)
	for _, typ := range []string{"tour", "tour", "payment"} {
		resp, _ := env.do(t, http.MethodPost, "/v1/events", map[string]any{"type": typ, "date": "2099-01-01"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	_, body := env.do(t, http.MethodGet, "/v1/events?type=tour", nil)
	list := decode[struct {
		Events []types.Event `json:"events"`
	}](t, body)
	assert.Len(t, list.Events, 2)

	_, body = env.do(t, http.MethodGet, "/v1/events?limit=1", nil)
	list = decode[struct {
		Events []types.Event `json:"events"`
	}](t, body)
	assert.Len(t, list.Events, 1)
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newEnv(t)

	// A fee-bearing amenity reservation with no payment is auto-cancelled.
	resp, body := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type":     "amenity-reservation",
		"date":     "2099-01-01",
		"time":     "09:00",
		"metadata": map[string]any{types.MetaFeeRequired: true},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	created := decode[types.Event](t, body)

	resp, body = env.do(t, http.MethodPost, "/v1/monitoring/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pass := decode[monitor.PassResult](t, body)
	assert.Equal(t, 1, pass.Monitored)
	require.Len(t, pass.Fallbacks, 1)
	assert.Equal(t, "amenity-unpaid", pass.Fallbacks[0].RuleID)

	_, body = env.do(t, http.MethodGet, "/v1/monitoring/stats", nil)
	stats := decode[monitor.Stats](t, body)
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, 1, stats.EventsMonitored)
	assert.False(t, stats.IsRunning)
	require.NotNil(t, stats.LastCheck)

	_, body = env.do(t, http.MethodGet, "/v1/monitoring/history?event_id="+created.ID, nil)
	hist := decode[struct {
		History []types.FallbackRecord `json:"history"`
	}](t, body)
	require.Len(t, hist.History, 1)
	assert.Equal(t, types.ActionAutoCancel, hist.History[0].Action)

	_, body = env.do(t, http.MethodGet, "/v1/events/"+created.ID, nil)
	persisted := decode[types.Event](t, body)
	assert.Equal(t, types.StatusCancelled, persisted.Status)

	// Cancelled events drop out of the next pass.
	_, body = env.do(t, http.MethodPost, "/v1/monitoring/run", nil)
	assert.Equal(t, 0, decode[monitor.PassResult](t, body).Monitored)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	env.do(t, http.MethodGet, "/healthz", nil)

	resp, body := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lifecycle_http_requests_total")
}
