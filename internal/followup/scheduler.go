// Package followup sends the timed communication templates of an event type. Each
// template fires at most once per event; a failed send is not recorded, so the next
// monitoring pass retries it while the template's window is still open.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/notify"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// Catalog resolves an event type and its templates.
type Catalog interface {
	EventType(id string) (types.EventTypeDefinition, bool)
	Templates(typeID string) []types.CommunicationTemplate
}

// Evaluator evaluates template conditions.
type Evaluator interface {
	Evaluate(name string, ev *types.Event, now time.Time) bool
}

// Property is the fixed property information merged into every message.
type Property struct {
	Name    string
	Address string
	Phone   string
}

// Scheduler decides which follow-ups are due and sends them.
type Scheduler struct {
	catalog    Catalog
	evaluator  Evaluator
	dispatcher notify.Dispatcher
	property   Property
	logger     *zap.Logger

	loc      *time.Location
	now      func() time.Time
	recorder activity.Recorder
	metrics  *metrics.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

func WithRecorder(r activity.Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func New(catalog Catalog, evaluator Evaluator, dispatcher notify.Dispatcher, property Property, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		catalog:    catalog,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		property:   property,
		logger:     logger.Named("followup"),
		loc:        time.UTC,
		now:        time.Now,
		recorder:   activity.Discard,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CheckFollowUps sends every template of the event's type that is due and has not been
// sent yet. It returns the number sent; send failures are joined into err.
func (s *Scheduler) CheckFollowUps(ctx context.Context, ev *types.Event) (int, error) {
	if ev.Status.Terminal() {
		return 0, nil
	}
	def, ok := s.catalog.EventType(ev.Type)
	if !ok {
		return 0, nil
	}

	var sent int
	var errs []error
	for _, tpl := range s.catalog.Templates(ev.Type) {
		if ev.HasFollowUp(tpl.ID) {
			continue
		}
		now := s.now()
		if !s.due(ev, tpl, now) {
			continue
		}
		if tpl.Condition != "" && !s.evaluator.Evaluate(tpl.Condition, ev, now) {
			continue
		}
		if tpl.StopOnResponse && responded(ev) {
			continue
		}

		recipient, ok := Recipient(ev)
		if !ok {
			s.logger.Warn("follow_up_no_recipient",
				zap.String("event_id", ev.ID),
				zap.String("template_id", tpl.ID),
			)
			continue
		}

		err := s.dispatcher.Send(ctx, notify.Notification{
			TemplateID: tpl.ID,
			Recipient:  recipient,
			Variables:  s.Variables(ev, def, recipient),
		})
		s.metrics.FollowUpSent(tpl.ID, err)
		if err != nil {
			s.logger.Warn("follow_up_failed",
				zap.String("event_id", ev.ID),
				zap.String("template_id", tpl.ID),
				zap.Error(err),
			)
			s.record(ctx, activity.NewEntry(ev.ID, ev.Type, activity.KindFollowUpFailed,
				fmt.Sprintf("Follow-up %s to %s failed", tpl.ID, recipient), now, nil))
			errs = append(errs, fmt.Errorf("follow-up %s for %s: %w", tpl.ID, ev.ID, err))
			continue
		}

		sentAt := s.now()
		ev.FollowUpHistory = append(ev.FollowUpHistory, types.FollowUpRecord{
			ID:             fmt.Sprintf("%s-%d", tpl.ID, sentAt.UnixMilli()),
			TemplateID:     tpl.ID,
			DelayHours:     tpl.DelayHours,
			Condition:      tpl.Condition,
			StopOnResponse: tpl.StopOnResponse,
			SentAt:         sentAt,
		})
		ev.UpdatedAt = sentAt
		sent++

		s.logger.Info("follow_up_sent",
			zap.String("event_id", ev.ID),
			zap.String("template_id", tpl.ID),
			zap.String("recipient", recipient),
		)
		s.record(ctx, activity.NewEntry(ev.ID, ev.Type, activity.KindFollowUpSent,
			fmt.Sprintf("Sent %s to %s", tpl.ID, recipient), sentAt, map[string]any{
				"template_id": tpl.ID,
				"channel":     tpl.Channel,
				"recipient":   recipient,
			}))
	}
	return sent, errors.Join(errs...)
}

// due reports whether now falls inside the template's one-hour window.
func (s *Scheduler) due(ev *types.Event, tpl types.CommunicationTemplate, now time.Time) bool {
	d := tpl.DelayHours
	if ev.Type != types.TypeTour {
		since := now.Sub(ev.CreatedAt).Hours()
		return d <= since && since < d+1
	}

	start, err := event.ScheduledAt(ev, s.loc)
	if err != nil {
		s.logger.Debug("unparsable_event_schedule", zap.String("event_id", ev.ID), zap.Error(err))
		return false
	}
	if d < 0 {
		until := start.Sub(now).Hours()
		return -d-1 < until && until <= -d
	}
	since := now.Sub(start).Hours()
	return d <= since && since < d+1
}

// Recipient picks the address a follow-up goes to. Tours go to the prospect; other
// types prefer the resident, then the prospect, then whoever is assigned first.
func Recipient(ev *types.Event) (string, bool) {
	if ev.Type == types.TypeTour {
		if email := ev.Metadata.String(types.MetaProspectEmail); email != "" {
			return email, true
		}
		if u, ok := ev.FirstUserWithRole(types.RoleProspect); ok {
			return u.Email, true
		}
		return "", false
	}
	for _, role := range []types.Role{types.RoleResident, types.RoleProspect} {
		if u, ok := ev.FirstUserWithRole(role); ok {
			return u.Email, true
		}
	}
	if len(ev.AssignedUsers) > 0 && ev.AssignedUsers[0].Email != "" {
		return ev.AssignedUsers[0].Email, true
	}
	return "", false
}

// Variables builds the template variables: fixed event and property fields, then every
// metadata key. Metadata never overrides the fixed fields.
func (s *Scheduler) Variables(ev *types.Event, def types.EventTypeDefinition, recipient string) map[string]string {
	vars := make(map[string]string, len(ev.Metadata)+10)
	for k := range ev.Metadata {
		vars[k] = ev.Metadata.String(k)
	}

	fixed := map[string]string{
		"eventId":         ev.ID,
		"eventTitle":      ev.Title,
		"eventType":       ev.Type,
		"eventTypeName":   def.Name,
		"eventDate":       ev.Date,
		"eventTime":       ev.Time,
		"recipientEmail":  recipient,
		"propertyName":    s.property.Name,
		"propertyAddress": s.property.Address,
		"propertyPhone":   s.property.Phone,
	}
	for k, v := range fixed {
		vars[k] = v
	}
	return vars
}

func responded(ev *types.Event) bool {
	return ev.Metadata.Bool(types.MetaHasResponse) || ev.Metadata.Bool(types.MetaHasResponded)
}

func (s *Scheduler) record(ctx context.Context, entry activity.Entry) {
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.Warn("activity_record_failed", zap.String("event_id", entry.EventID), zap.Error(err))
	}
}
