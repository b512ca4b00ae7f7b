// Package metrics exposes Prometheus instruments for the lifecycle engine. Every method
// is safe on a nil *Metrics so components can run uninstrumented in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifecycle"

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	fallbacks       *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	followUps       *prometheus.CounterVec
	eventFailures   prometheus.Counter
	passDuration    prometheus.Histogram
	eventsMonitored prometheus.Gauge
	passesSkipped   prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

// New registers the collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback rule executions by event type, action and result.",
		}, []string{"event_type", "action", "result"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation notifications by action and result.",
		}, []string{"action", "result"}),
		followUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_total",
			Help:      "Follow-up sends by template and result.",
		}, []string{"template_id", "result"}),
		eventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_failures_total",
			Help:      "Events whose processing failed during a monitoring pass.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_pass_duration_seconds",
			Help:      "Duration of monitoring passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsMonitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_monitored",
			Help:      "Non-terminal events evaluated in the last pass.",
		}),
		passesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_passes_skipped_total",
			Help:      "Passes skipped because another pass held the lock.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fallbacks, m.escalations, m.followUps, m.eventFailures,
		m.passDuration, m.eventsMonitored, m.passesSkipped, m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) FallbackExecuted(eventType, action, result string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(eventType, action, result).Inc()
}

func (m *Metrics) EscalationSent(action string, err error) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(action, resultLabel(err)).Inc()
}

func (m *Metrics) FollowUpSent(templateID string, err error) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(templateID, resultLabel(err)).Inc()
}

func (m *Metrics) EventFailed() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}

func (m *Metrics) PassCompleted(d time.Duration, monitored int) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
	m.eventsMonitored.Set(float64(monitored))
}

func (m *Metrics) PassSkipped() {
	if m == nil {
		return
	}
	m.passesSkipped.Inc()
}

func (m *Metrics) HTTPRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
