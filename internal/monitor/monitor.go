// Package monitor drives the lifecycle engine on a fixed interval. Each pass walks
// the working set of events and, for every non-terminal event, runs fallbacks,
// escalations and follow-ups in that order.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/store"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = time.Minute

const tracerName = "github.com/matthewbaird/lifecycle/internal/monitor"

// RuleEngine runs fallback and escalation rules against one event.
type RuleEngine interface {
	CheckFallbacks(ctx context.Context, ev *types.Event) []types.FallbackRecord
	CheckEscalations(ctx context.Context, ev *types.Event) error
}

// FollowUps sends due communication templates for one event.
type FollowUps interface {
	CheckFollowUps(ctx context.Context, ev *types.Event) (int, error)
}

// Stats is a snapshot of the loop state.
type Stats struct {
	IsRunning       bool       `json:"is_running"`
	EventsMonitored int        `json:"events_monitored"`
	LastCheck       *time.Time `json:"last_check"`
	Ticks           int64      `json:"ticks"`
}

// PassResult summarizes one pass.
type PassResult struct {
	Monitored int                    `json:"monitored"`
	Failed    int                    `json:"failed"`
	Fallbacks []types.FallbackRecord `json:"fallbacks"`
	FollowUps int                    `json:"follow_ups"`
	Skipped   bool                   `json:"skipped"`
}

// Monitor is the interval-driven coordinator.
type Monitor struct {
	rules     RuleEngine
	followUps FollowUps
	logger    *zap.Logger
	store     store.EventStore
	locker    Locker
	metrics   *metrics.Metrics
	recorder  activity.Recorder
	tracer    trace.Tracer
	now       func() time.Time
	onPass    func(Stats)

	// passMu is held for a whole pass and by Mutate.
	passMu sync.Mutex

	mu        sync.Mutex
	events    []*types.Event
	running   bool
	stop      chan struct{}
	done      chan struct{}
	monitored int
	lastCheck *time.Time
	ticks     int64
}

type Option func(*Monitor)

// WithStore persists every processed event.
func WithStore(s store.EventStore) Option { return func(m *Monitor) { m.store = s } }

// WithLocker guards each pass; a pass that cannot take the lock is skipped.
func WithLocker(l Locker) Option { return func(m *Monitor) { m.locker = l } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func WithRecorder(r activity.Recorder) Option { return func(m *Monitor) { m.recorder = r } }

func WithTracer(t trace.Tracer) Option { return func(m *Monitor) { m.tracer = t } }

// WithPassHook is called with fresh stats after every completed pass.
func WithPassHook(fn func(Stats)) Option { return func(m *Monitor) { m.onPass = fn } }

func New(rules RuleEngine, followUps FollowUps, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		rules:     rules,
		followUps: followUps,
		logger:    logger.Named("monitor"),
		recorder:  activity.Discard,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start installs the working set and begins ticking. One pass runs immediately.
// Calling Start while running stops the previous loop first.
func (m *Monitor) Start(ctx context.Context, events []*types.Event, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.Stop()

	stop := make(chan struct{})
	done := make(chan struct{})
	m.mu.Lock()
	m.events = events
	m.running = true
	m.stop = stop
	m.done = done
	m.mu.Unlock()

	m.logger.Info("monitoring_started",
		zap.Int("events", len(events)),
		zap.Duration("interval", interval),
	)
	go m.loop(ctx, interval, stop, done)
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	m.RunOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.mu.Lock()
			if m.stop == stop {
				m.running = false
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			m.RunOnce(ctx)
		}
	}
}

// Stop prevents future ticks and waits for the loop to exit. A pass already in
// progress runs to completion.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	wasRunning := m.running
	m.running = false
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	if wasRunning {
		m.logger.Info("monitoring_stopped")
	}
}

// UpdateEvents replaces the working set without restarting the timer.
func (m *Monitor) UpdateEvents(events []*types.Event) {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
}

// Events returns copies of the working set, taken between passes.
func (m *Monitor) Events() []*types.Event {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Clone())
	}
	return out
}

// Add appends ev to the working set.
func (m *Monitor) Add(ev *types.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Mutate runs fn on the working-set event with the given id while no pass is
// running. It reports false when the event is not being monitored.
func (m *Monitor) Mutate(id string, fn func(ev *types.Event) error) (bool, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.Lock()
	var target *types.Event
	for _, ev := range m.events {
		if ev != nil && ev.ID == id {
			target = ev
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return false, nil
	}
	return true, fn(target)
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Monitor) statsLocked() Stats {
	s := Stats{
		IsRunning:       m.running,
		EventsMonitored: m.monitored,
		Ticks:           m.ticks,
	}
	if m.lastCheck != nil {
		t := *m.lastCheck
		s.LastCheck = &t
	}
	return s
}

// RunOnce performs one synchronous pass over the working set.
func (m *Monitor) RunOnce(ctx context.Context) PassResult {
	if m.locker != nil {
		release, ok, err := m.locker.TryLock(ctx)
		if err != nil {
			m.logger.Error("monitor_lock_failed", zap.Error(err))
			m.metrics.PassSkipped()
			return PassResult{Skipped: true}
		}
		if !ok {
			m.logger.Info("monitor_pass_skipped", zap.String("reason", "lock held"))
			m.metrics.PassSkipped()
			return PassResult{Skipped: true}
		}
		defer release()
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "monitor.pass")
	defer span.End()

	started := m.now()
	m.mu.Lock()
	events := append([]*types.Event(nil), m.events...)
	m.mu.Unlock()

	var res PassResult
	for _, ev := range events {
		if ev == nil || ev.Status.Terminal() {
			continue
		}
		res.Monitored++
		records, sent, err := m.process(ctx, ev)
		res.Fallbacks = append(res.Fallbacks, records...)
		res.FollowUps += sent
		if err != nil {
			res.Failed++
			m.metrics.EventFailed()
			m.logger.Error("event_processing_failed",
				zap.String("event_id", ev.ID),
				zap.String("event_type", ev.Type),
				zap.Error(err),
			)
			span.RecordError(err, trace.WithAttributes(attribute.String("event.id", ev.ID)))
			entry := activity.NewEntry(ev.ID, ev.Type, activity.KindEventFailed,
				"Monitoring failed: "+err.Error(), m.now(), nil)
			if rerr := m.recorder.Record(ctx, entry); rerr != nil {
				m.logger.Warn("activity_record_failed", zap.Error(rerr))
			}
		}
		if m.store != nil {
			if err := m.store.Save(ctx, ev); err != nil {
				m.logger.Error("event_save_failed", zap.String("event_id", ev.ID), zap.Error(err))
			}
		}
	}

	finished := m.now()
	m.metrics.PassCompleted(finished.Sub(started), res.Monitored)
	span.SetAttributes(
		attribute.Int("events.monitored", res.Monitored),
		attribute.Int("events.failed", res.Failed),
		attribute.Int("fallbacks.fired", len(res.Fallbacks)),
		attribute.Int("follow_ups.sent", res.FollowUps),
	)
	if res.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d events failed", res.Failed))
	}

	m.mu.Lock()
	m.monitored = res.Monitored
	m.lastCheck = &finished
	m.ticks++
	stats := m.statsLocked()
	m.mu.Unlock()

	m.logger.Debug("monitor_pass_completed",
		zap.Int("monitored", res.Monitored),
		zap.Int("failed", res.Failed),
		zap.Int("fallbacks", len(res.Fallbacks)),
		zap.Int("follow_ups", res.FollowUps),
	)
	if m.onPass != nil {
		m.onPass(stats)
	}
	return res
}

// process runs the three checks for one event. A panic in any of them is
// returned as an error so the rest of the batch still runs.
func (m *Monitor) process(ctx context.Context, ev *types.Event) (records []types.FallbackRecord, sent int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	records = m.rules.CheckFallbacks(ctx, ev)
	var errs []error
	if err := m.rules.CheckEscalations(ctx, ev); err != nil {
		errs = append(errs, fmt.Errorf("escalations: %w", err))
	}
	if !ev.Status.Terminal() {
		n, err := m.followUps.CheckFollowUps(ctx, ev)
		sent = n
		if err != nil {
			errs = append(errs, fmt.Errorf("follow-ups: %w", err))
		}
	}
	return records, sent, errors.Join(errs...)
}
