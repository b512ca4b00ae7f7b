// Package fallback resolves stalled events. For each rule of an event's type whose
// condition holds, the engine executes the rule's action once per scheduled slot and
// appends an audit record; escalation rules notify staff once an event is overdue.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/notify"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// DefaultCancellationReason is used when an auto-cancel rule carries no notification.
const DefaultCancellationReason = "Event automatically cancelled"

// Audit results other than success.
const (
	ResultUnknownAction = "Unknown action"
	resultFailedPrefix  = "Failed to execute: "
)

// TypeLookup resolves event type definitions.
type TypeLookup interface {
	EventType(id string) (types.EventTypeDefinition, bool)
}

// Evaluator evaluates named conditions.
type Evaluator interface {
	Evaluate(name string, ev *types.Event, now time.Time) bool
}

// Addresses are the fixed recipients of engine notifications.
type Addresses struct {
	Default     string // cancellation notice when the event has no assigned users
	Management  string
	Manager     string
	Collections string
}

// DefaultAddresses returns placeholder addresses for local runs.
func DefaultAddresses() Addresses {
	return Addresses{
		Default:     "noreply@property.local",
		Management:  "management@property.local",
		Manager:     "manager@property.local",
		Collections: "collections@property.local",
	}
}

// Engine executes fallback and escalation rules.
type Engine struct {
	lookup     TypeLookup
	evaluator  Evaluator
	dispatcher notify.Dispatcher
	addrs      Addresses
	logger     *zap.Logger

	loc      *time.Location
	now      func() time.Time
	recorder activity.Recorder
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	history []types.FallbackRecord
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocation sets the zone event dates are interpreted in.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

// WithRecorder records an activity entry per firing.
func WithRecorder(r activity.Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithMetrics counts firings.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func New(lookup TypeLookup, evaluator Evaluator, dispatcher notify.Dispatcher, addrs Addresses, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		lookup:     lookup,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		addrs:      addrs,
		logger:     logger.Named("fallback"),
		loc:        time.UTC,
		now:        time.Now,
		recorder:   activity.Discard,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FallbackRuleKey identifies a fallback rule in Event.RuleFirings.
func FallbackRuleKey(ruleID string) string { return "fallback:" + ruleID }

// EscalationRuleKey identifies an escalation rule in Event.RuleFirings.
func EscalationRuleKey(r types.EscalationRule) string {
	return "escalation:" + strconv.FormatFloat(r.Threshold, 'f', -1, 64) + ":" + string(r.Action)
}

// CheckFallbacks evaluates every fallback rule of the event's type and executes the
// actions whose conditions hold. It returns the audit records appended by this call.
// Rules are evaluated against the event as it stands after the previous rule ran, so
// a cancel stops later rules.
func (e *Engine) CheckFallbacks(ctx context.Context, ev *types.Event) []types.FallbackRecord {
	if ev.Status.Terminal() {
		return nil
	}
	def, ok := e.lookup.EventType(ev.Type)
	if !ok {
		e.logger.Warn("unknown_event_type", zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		return nil
	}

	var fired []types.FallbackRecord
	for _, rule := range def.FallbackRules {
		if ev.Status.Terminal() {
			break
		}
		now := e.now()
		key := FallbackRuleKey(rule.ID)
		if ev.HasFired(key, event.Slot(ev)) {
			continue
		}
		if !e.evaluator.Evaluate(rule.Condition, ev, now) {
			continue
		}

		// The firing is keyed to the slot the condition held for, before a reschedule moves it.
		event.MarkFired(ev, key, now)
		result := e.execute(ctx, ev, rule)

		rec := types.FallbackRecord{
			ID:          uuid.New().String(),
			EventID:     ev.ID,
			RuleID:      rule.ID,
			Action:      rule.Action,
			TriggeredAt: now,
			Reason:      reason(rule),
			Result:      result,
		}
		e.append(rec)
		fired = append(fired, rec)

		e.logger.Info("fallback_fired",
			zap.String("event_id", ev.ID),
			zap.String("rule_id", rule.ID),
			zap.String("action", string(rule.Action)),
			zap.String("result", result),
		)
		e.metrics.FallbackExecuted(ev.Type, string(rule.Action), resultLabel(result))
		e.record(ctx, activity.NewEntry(ev.ID, ev.Type, activity.KindFallbackFired,
			fmt.Sprintf("Rule %s (%s): %s", rule.ID, rule.Action, result), now, rec))
	}
	return fired
}

// execute runs one action and returns its audit result. Panics are converted into a
// failure result.
func (e *Engine) execute(ctx context.Context, ev *types.Event, rule types.FallbackRule) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fallback_action_panicked",
				zap.String("event_id", ev.ID),
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			result = resultFailedPrefix + fmt.Sprint(r)
		}
	}()

	var err error
	switch rule.Action {
	case types.ActionAutoCancel:
		result, err = e.autoCancel(ctx, ev, rule)
	case types.ActionReschedule:
		result, err = e.reschedule(ev, rule)
	case types.ActionEscalate:
		result, err = e.escalate(ctx, ev, rule)
	case types.ActionArchive:
		result, err = e.archive(ev, rule)
	default:
		e.logger.Warn("unknown_fallback_action",
			zap.String("event_id", ev.ID),
			zap.String("rule_id", rule.ID),
			zap.String("action", string(rule.Action)),
		)
		return ResultUnknownAction
	}
	if err != nil {
		e.logger.Error("fallback_action_failed",
			zap.String("event_id", ev.ID),
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return resultFailedPrefix + err.Error()
	}
	return result
}

func (e *Engine) autoCancel(ctx context.Context, ev *types.Event, rule types.FallbackRule) (string, error) {
	reason := rule.Notification
	if reason == "" {
		reason = DefaultCancellationReason
	}
	ev.Status = types.StatusCancelled
	ev.Metadata.Set(types.MetaCancellationReason, reason)
	ev.UpdatedAt = e.now()

	recipient := e.addrs.Default
	if len(ev.AssignedUsers) > 0 && ev.AssignedUsers[0].Email != "" {
		recipient = ev.AssignedUsers[0].Email
	}
	err := e.dispatcher.Send(ctx, notify.Notification{
		TemplateID: notify.TemplateEventCancelled,
		Recipient:  recipient,
		Variables:  e.variables(ev, map[string]string{"reason": reason}),
	})
	if err != nil {
		// The cancellation stands; only the notice failed.
		e.logger.Warn("cancellation_notice_failed", zap.String("event_id", ev.ID), zap.Error(err))
		return "Event cancelled (notification failed: " + err.Error() + ")", nil
	}
	return "Event cancelled", nil
}

func (e *Engine) reschedule(ev *types.Event, rule types.FallbackRule) (string, error) {
	delay := time.Duration(rule.DelayHours * float64(time.Hour))
	now := e.now()
	if err := event.Reschedule(ev, delay, e.loc, now); err != nil {
		return "", err
	}
	// A pushed-back deadline counts from the moment the miss was detected.
	if _, ok := ev.Metadata.Time(types.MetaDueDate, e.loc); ok {
		ev.Metadata.Set(types.MetaDueDate, now.Add(delay).In(e.loc).Format(time.RFC3339))
	}
	return fmt.Sprintf("Rescheduled to %s %s", ev.Date, ev.Time), nil
}

func (e *Engine) escalate(ctx context.Context, ev *types.Event, rule types.FallbackRule) (string, error) {
	err := e.dispatcher.Send(ctx, notify.Notification{
		TemplateID: notify.TemplateEventEscalation,
		Recipient:  e.addrs.Management,
		Variables:  e.variables(ev, map[string]string{"reason": reason(rule)}),
	})
	if err != nil {
		return "", fmt.Errorf("sending escalation: %w", err)
	}
	return "Escalated to management", nil
}

func (e *Engine) archive(ev *types.Event, rule types.FallbackRule) (string, error) {
	ev.Status = types.StatusCancelled
	ev.Metadata.Set(types.MetaArchived, true)
	ev.Metadata.Set(types.MetaArchiveReason, reason(rule))
	ev.UpdatedAt = e.now()
	return "Event archived", nil
}

// CheckEscalations notifies staff for every escalation rule whose threshold the event
// has passed. Each rule fires once per scheduled slot. Dispatch errors are joined.
func (e *Engine) CheckEscalations(ctx context.Context, ev *types.Event) error {
	if ev.Status.Terminal() {
		return nil
	}
	def, ok := e.lookup.EventType(ev.Type)
	if !ok || len(def.EscalationRules) == 0 {
		return nil
	}
	at, err := event.ScheduledAt(ev, e.loc)
	if err != nil {
		e.logger.Debug("unparsable_event_schedule", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}
	now := e.now()
	hoursOverdue := now.Sub(at).Hours()

	var errs []error
	for _, rule := range def.EscalationRules {
		if rule.Threshold > hoursOverdue {
			continue
		}
		key := EscalationRuleKey(rule)
		if ev.HasFired(key, event.Slot(ev)) {
			continue
		}

		var templateID, recipient string
		switch rule.Action {
		case types.EscalateToManager:
			templateID, recipient = notify.TemplateEscalateToManager, e.addrs.Manager
		case types.EscalateToCollections:
			templateID, recipient = notify.TemplateEscalateToCollections, e.addrs.Collections
		default:
			e.logger.Warn("unknown_escalation_action",
				zap.String("event_id", ev.ID),
				zap.String("action", string(rule.Action)),
			)
			continue
		}

		err := e.dispatcher.Send(ctx, notify.Notification{
			TemplateID: templateID,
			Recipient:  recipient,
			Variables: e.variables(ev, map[string]string{
				"hoursOverdue": strconv.FormatFloat(hoursOverdue, 'f', 1, 64),
				"threshold":    strconv.FormatFloat(rule.Threshold, 'f', -1, 64),
				"reason":       rule.Notification,
			}),
		})
		e.metrics.EscalationSent(string(rule.Action), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("escalation %s for %s: %w", rule.Action, ev.ID, err))
			continue
		}
		event.MarkFired(ev, key, now)
		e.logger.Info("escalation_sent",
			zap.String("event_id", ev.ID),
			zap.String("action", string(rule.Action)),
			zap.Float64("hours_overdue", hoursOverdue),
		)
		e.record(ctx, activity.NewEntry(ev.ID, ev.Type, activity.KindEscalationSent,
			fmt.Sprintf("Escalated %s after %.1fh overdue", rule.Action, hoursOverdue), now, rule))
	}
	return errors.Join(errs...)
}

// History returns a copy of every audit record in firing order.
func (e *Engine) History() []types.FallbackRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.FallbackRecord(nil), e.history...)
}

// HistoryFor returns the audit records of one event.
func (e *Engine) HistoryFor(eventID string) []types.FallbackRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []types.FallbackRecord
	for _, r := range e.history {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) append(rec types.FallbackRecord) {
	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()
}

func (e *Engine) record(ctx context.Context, entry activity.Entry) {
	if err := e.recorder.Record(ctx, entry); err != nil {
		e.logger.Warn("activity_record_failed", zap.String("event_id", entry.EventID), zap.Error(err))
	}
}

func (e *Engine) variables(ev *types.Event, extra map[string]string) map[string]string {
	vars := map[string]string{
		"eventId":    ev.ID,
		"eventTitle": ev.Title,
		"eventType":  ev.Type,
		"eventDate":  ev.Date,
		"eventTime":  ev.Time,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func reason(rule types.FallbackRule) string {
	if rule.Notification != "" {
		return rule.Notification
	}
	return "Condition " + rule.Condition + " met"
}

func resultLabel(result string) string {
	switch {
	case result == ResultUnknownAction:
		return "unknown"
	case strings.HasPrefix(result, resultFailedPrefix):
		return "failed"
	default:
		return "ok"
	}
}
