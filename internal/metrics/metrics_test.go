package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FallbackExecuted("tour", "escalate", "ok")
		m.EscalationSent("escalate_to_manager", nil)
		m.FollowUpSent("x", errors.New("down"))
		m.EventFailed()
		m.PassCompleted(time.Second, 3)
		m.PassSkipped()
		m.HTTPRequest("/healthz", "GET", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.FollowUpSent("tour-thank-you", nil)
	m.FollowUpSent("tour-thank-you", nil)
	m.FollowUpSent("tour-thank-you", errors.New("down"))
	m.EventFailed()
	m.PassCompleted(50*time.Millisecond, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.followUps.WithLabelValues("tour-thank-you", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.followUps.WithLabelValues("tour-thank-you", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventFailures))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.eventsMonitored))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.HTTPRequest("/v1/events", "GET", 404)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lifecycle_http_requests_total{method="GET",route="/v1/events",status="4xx"} 1`), body)
}
