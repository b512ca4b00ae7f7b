// Package conditions evaluates the named predicates referenced by fallback rules and
// communication templates. Every predicate is a pure function of an event and the
// current instant.
package conditions

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// Predicate names shipped with the engine.
const (
	MoveInDatePassedIncomplete = "move_in_date_passed_incomplete"
	NotSigned5Days             = "not_signed_5_days"
	NoShowNoInterest           = "no_show_no_interest"
	NoResponseFinalFollowUp    = "no_response_final_followup"
	NoResponse7Days            = "no_response_7_days"
	Overdue72Hours             = "overdue_72_hours"
	InspectionNotComplete      = "inspection_not_complete"
	NoPaymentFeeRequired       = "no_payment_fee_required"
	LessThan3RSVPs             = "less_than_3_rsvps"
	PaymentOverdue             = "payment_overdue"
	IncompleteDueDate          = "incomplete_due_date"
)

// FinalTourFollowUpTemplate is the template id no_response_final_followup looks for.
const FinalTourFollowUpTemplate = "tour-final-follow-up"

const day = 24 * time.Hour

// Func is a predicate over an event at instant now. It must not mutate ev.
type Func func(ev *types.Event, now time.Time) bool

// Evaluator resolves predicate names to functions.
type Evaluator struct {
	logger *zap.Logger
	loc    *time.Location

	mu    sync.RWMutex
	funcs map[string]Func
}

// New returns an evaluator with the built-in predicates registered. Calendar dates
// are interpreted in loc (UTC when nil).
func New(logger *zap.Logger, loc *time.Location) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	e := &Evaluator{
		logger: logger.Named("conditions"),
		loc:    loc,
		funcs:  make(map[string]Func),
	}
	e.registerBuiltins()
	return e
}

// Register adds or replaces a predicate.
func (e *Evaluator) Register(name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[name] = fn
}

// Known reports whether name is registered.
func (e *Evaluator) Known(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.funcs[name]
	return ok
}

// Names lists the registered predicates in sorted order.
func (e *Evaluator) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.funcs))
	for n := range e.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs the named predicate. An unknown name is logged and reads as false.
func (e *Evaluator) Evaluate(name string, ev *types.Event, now time.Time) bool {
	e.mu.RLock()
	fn, ok := e.funcs[name]
	e.mu.RUnlock()
	if !ok {
		e.logger.Warn("unknown_condition",
			zap.String("condition", name),
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
		)
		return false
	}
	return fn(ev, now)
}

func (e *Evaluator) registerBuiltins() {
	e.funcs[MoveInDatePassedIncomplete] = func(ev *types.Event, now time.Time) bool {
		return ev.Type == types.TypeMoveIn && e.datePassed(ev, now) && event.HasIncompleteRequired(ev)
	}

	e.funcs[NotSigned5Days] = func(ev *types.Event, now time.Time) bool {
		if ev.Type != types.TypeLeaseSigning || now.Sub(ev.CreatedAt) < 5*day {
			return false
		}
		return !kindComplete(ev, types.KindSignature)
	}

	e.funcs[NoShowNoInterest] = func(ev *types.Event, now time.Time) bool {
		if ev.Type != types.TypeTour {
			return false
		}
		at, ok := e.scheduledAt(ev)
		if !ok || now.Sub(at) < 2*time.Hour {
			return false
		}
		return !kindComplete(ev, types.KindTour) &&
			ev.Metadata.String(types.MetaInterestLevel) != "not-interested"
	}

	e.funcs[NoResponseFinalFollowUp] = func(ev *types.Event, _ time.Time) bool {
		for _, f := range ev.FollowUpHistory {
			if f.TemplateID == FinalTourFollowUpTemplate && f.DelayHours < 0 {
				return !ev.Metadata.Bool(types.MetaHasResponded)
			}
		}
		return false
	}

	e.funcs[NoResponse7Days] = func(ev *types.Event, now time.Time) bool {
		return now.Sub(ev.UpdatedAt) >= 7*day && !ev.Metadata.Bool(types.MetaHasResponse)
	}

	e.funcs[Overdue72Hours] = func(ev *types.Event, now time.Time) bool {
		at, ok := e.scheduledAt(ev)
		return ok && now.Sub(at) >= 72*time.Hour && ev.Status != types.StatusCompleted
	}

	e.funcs[InspectionNotComplete] = func(ev *types.Event, now time.Time) bool {
		due, ok := ev.Metadata.Time(types.MetaDueDate, e.loc)
		if !ok {
			if due, ok = e.scheduledAt(ev); !ok {
				return false
			}
		}
		t, exists := event.TaskByKind(ev, types.KindInspection)
		return now.After(due) && exists && !t.IsComplete
	}

	e.funcs[NoPaymentFeeRequired] = func(ev *types.Event, _ time.Time) bool {
		return ev.Type == types.TypeAmenityReservation &&
			ev.Metadata.Bool(types.MetaFeeRequired) &&
			!ev.Metadata.Bool(types.MetaPaymentReceived)
	}

	e.funcs[LessThan3RSVPs] = func(ev *types.Event, _ time.Time) bool {
		if ev.Type != types.TypeCommunityEvent {
			return false
		}
		n, _ := ev.Metadata.Int(types.MetaRSVPCount)
		return n < 3
	}

	e.funcs[PaymentOverdue] = func(ev *types.Event, now time.Time) bool {
		return ev.Type == types.TypePayment && e.datePassed(ev, now) && !kindComplete(ev, types.KindPayment)
	}

	e.funcs[IncompleteDueDate] = func(ev *types.Event, now time.Time) bool {
		return e.datePassed(ev, now) && event.HasIncompleteRequired(ev)
	}
}

func (e *Evaluator) day(ev *types.Event) (time.Time, bool) {
	d, err := event.Day(ev, e.loc)
	if err != nil {
		e.logger.Debug("unparsable_event_date", zap.String("event_id", ev.ID), zap.Error(err))
		return time.Time{}, false
	}
	return d, true
}

func (e *Evaluator) scheduledAt(ev *types.Event) (time.Time, bool) {
	at, err := event.ScheduledAt(ev, e.loc)
	if err != nil {
		e.logger.Debug("unparsable_event_schedule", zap.String("event_id", ev.ID), zap.Error(err))
		return time.Time{}, false
	}
	return at, true
}

// datePassed reports now > the event's calendar date.
func (e *Evaluator) datePassed(ev *types.Event, now time.Time) bool {
	d, ok := e.day(ev)
	return ok && now.After(d)
}

// kindComplete reports whether the task of kind exists and is complete. A missing
// task reads as not complete.
func kindComplete(ev *types.Event, kind string) bool {
	t, ok := event.TaskByKind(ev, kind)
	return ok && t.IsComplete
}
