package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matthewbaird/lifecycle/internal/types"
)

var now = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func newEvaluator() *Evaluator { return New(zap.NewNop(), time.UTC) }

func tourEvent() *types.Event {
	at := now.Add(-3 * time.Hour)
	return &types.Event{
		ID:        "tour-1",
		Type:      types.TypeTour,
		Date:      at.Format(types.DateLayout),
		Time:      at.Format(types.TimeLayout),
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
		Status:    types.StatusScheduled,
		Tasks: []types.Task{
			{ID: "confirm-tour", Title: "Confirm Tour Time", IsRequired: true, IsComplete: true},
			{ID: "complete-tour", Kind: types.KindTour, Title: "Complete Tour", IsRequired: true},
		},
		Metadata: types.Metadata{types.MetaInterestLevel: "interested"},
	}
}

func TestNoShowNoInterest(t *testing.T) {
	e := newEvaluator()

	ev := tourEvent()
	assert.True(t, e.Evaluate(NoShowNoInterest, ev, now))

	ev.Metadata[types.MetaInterestLevel] = "not-interested"
	assert.False(t, e.Evaluate(NoShowNoInterest, ev, now))

	ev = tourEvent()
	ev.Tasks[1].IsComplete = true
	assert.False(t, e.Evaluate(NoShowNoInterest, ev, now))

	ev = tourEvent()
	assert.False(t, e.Evaluate(NoShowNoInterest, ev, now.Add(-90*time.Minute)), "only 1.5h after start")

	ev = tourEvent()
	ev.Type = types.TypeMoveIn
	assert.False(t, e.Evaluate(NoShowNoInterest, ev, now))
}

func TestNotSigned5Days(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		ID:        "lease-1",
		Type:      types.TypeLeaseSigning,
		Date:      "2025-06-20",
		CreatedAt: now.Add(-6 * day),
		Tasks: []types.Task{
			{ID: "review-lease", Title: "Review Lease Terms", IsComplete: true},
			{ID: "sign-lease", Kind: types.KindSignature, Title: "Sign Lease Agreement"},
		},
	}
	assert.True(t, e.Evaluate(NotSigned5Days, ev, now))

	ev.CreatedAt = now.Add(-4 * day)
	assert.False(t, e.Evaluate(NotSigned5Days, ev, now))

	ev.CreatedAt = now.Add(-5 * day)
	assert.True(t, e.Evaluate(NotSigned5Days, ev, now), "exactly five days qualifies")

	ev.Tasks[1].IsComplete = true
	assert.False(t, e.Evaluate(NotSigned5Days, ev, now))
}

func TestMoveInDatePassedIncomplete(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type: types.TypeMoveIn,
		Date: "2025-06-09",
		Tasks: []types.Task{
			{ID: "keys", IsRequired: true},
			{ID: "optional", IsRequired: false},
		},
	}
	assert.True(t, e.Evaluate(MoveInDatePassedIncomplete, ev, now))

	ev.Tasks[0].IsComplete = true
	assert.False(t, e.Evaluate(MoveInDatePassedIncomplete, ev, now), "only optional tasks open")

	ev.Tasks[0].IsComplete = false
	ev.Date = "2025-06-11"
	assert.False(t, e.Evaluate(MoveInDatePassedIncomplete, ev, now))
}

func TestNoResponseFinalFollowUp(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{Type: types.TypeTour, Metadata: types.Metadata{}}
	assert.False(t, e.Evaluate(NoResponseFinalFollowUp, ev, now))

	ev.FollowUpHistory = []types.FollowUpRecord{{TemplateID: FinalTourFollowUpTemplate, DelayHours: 72}}
	assert.False(t, e.Evaluate(NoResponseFinalFollowUp, ev, now), "positive delay does not count")

	ev.FollowUpHistory = []types.FollowUpRecord{{TemplateID: FinalTourFollowUpTemplate, DelayHours: -1}}
	assert.True(t, e.Evaluate(NoResponseFinalFollowUp, ev, now))

	ev.Metadata[types.MetaHasResponded] = true
	assert.False(t, e.Evaluate(NoResponseFinalFollowUp, ev, now))
}

func TestNoResponse7Days(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{UpdatedAt: now.Add(-7 * day)}
	assert.True(t, e.Evaluate(NoResponse7Days, ev, now))

	ev.Metadata = types.Metadata{types.MetaHasResponse: "yes"}
	assert.False(t, e.Evaluate(NoResponse7Days, ev, now))

	ev.Metadata = nil
	ev.UpdatedAt = now.Add(-6 * day)
	assert.False(t, e.Evaluate(NoResponse7Days, ev, now))
}

func TestOverdue72Hours(t *testing.T) {
	e := newEvaluator()
	at := now.Add(-72 * time.Hour)
	ev := &types.Event{
		Date:   at.Format(types.DateLayout),
		Time:   at.Format(types.TimeLayout),
		Status: types.StatusInProgress,
	}
	assert.True(t, e.Evaluate(Overdue72Hours, ev, now))

	ev.Status = types.StatusCompleted
	assert.False(t, e.Evaluate(Overdue72Hours, ev, now))

	ev.Status = types.StatusScheduled
	assert.False(t, e.Evaluate(Overdue72Hours, ev, now.Add(-time.Minute)))
}

func TestInspectionNotComplete(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:  types.TypeInspection,
		Date:  "2025-06-20",
		Tasks: []types.Task{{ID: "conduct-inspection", Kind: types.KindInspection}},
		Metadata: types.Metadata{
			types.MetaDueDate: "2025-06-09",
		},
	}
	assert.True(t, e.Evaluate(InspectionNotComplete, ev, now), "dueDate overrides event date")

	delete(ev.Metadata, types.MetaDueDate)
	assert.False(t, e.Evaluate(InspectionNotComplete, ev, now))

	ev.Date = "2025-06-01"
	assert.True(t, e.Evaluate(InspectionNotComplete, ev, now))

	ev.Tasks = nil
	assert.False(t, e.Evaluate(InspectionNotComplete, ev, now), "no inspection task")
}

func TestInspectionNotComplete_UsesScheduledTime(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:  types.TypeInspection,
		Date:  "2025-06-10",
		Time:  "16:00",
		Tasks: []types.Task{{ID: "conduct-inspection", Kind: types.KindInspection}},
	}
	assert.False(t, e.Evaluate(InspectionNotComplete, ev, now), "scheduled later today")
	assert.True(t, e.Evaluate(InspectionNotComplete, ev, now.Add(2*time.Hour)))
}

func TestMissingTaggedTaskReadsIncomplete(t *testing.T) {
	e := newEvaluator()

	lease := &types.Event{Type: types.TypeLeaseSigning, Date: "2025-06-20", CreatedAt: now.Add(-6 * day)}
	assert.True(t, e.Evaluate(NotSigned5Days, lease, now))

	tour := tourEvent()
	tour.Tasks = nil
	assert.True(t, e.Evaluate(NoShowNoInterest, tour, now))

	payment := &types.Event{Type: types.TypePayment, Date: "2025-06-01"}
	assert.True(t, e.Evaluate(PaymentOverdue, payment, now))
}

func TestNoPaymentFeeRequired(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:     types.TypeAmenityReservation,
		Metadata: types.Metadata{types.MetaFeeRequired: true},
	}
	assert.True(t, e.Evaluate(NoPaymentFeeRequired, ev, now))

	ev.Metadata[types.MetaPaymentReceived] = true
	assert.False(t, e.Evaluate(NoPaymentFeeRequired, ev, now))

	ev.Metadata = types.Metadata{types.MetaFeeRequired: false}
	assert.False(t, e.Evaluate(NoPaymentFeeRequired, ev, now))
}

func TestLessThan3RSVPs(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{Type: types.TypeCommunityEvent}
	assert.True(t, e.Evaluate(LessThan3RSVPs, ev, now), "missing count reads as zero")

	ev.Metadata = types.Metadata{types.MetaRSVPCount: float64(2)}
	assert.True(t, e.Evaluate(LessThan3RSVPs, ev, now))

	ev.Metadata[types.MetaRSVPCount] = float64(3)
	assert.False(t, e.Evaluate(LessThan3RSVPs, ev, now))
}

func TestPaymentOverdue(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:  types.TypePayment,
		Date:  "2025-06-01",
		Tasks: []types.Task{{ID: "submit-payment", Kind: types.KindPayment, IsRequired: true}},
	}
	assert.True(t, e.Evaluate(PaymentOverdue, ev, now))

	ev.Tasks[0].IsComplete = true
	assert.False(t, e.Evaluate(PaymentOverdue, ev, now))
}

func TestIncompleteDueDate(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:  types.TypeMoveOut,
		Date:  "2025-06-09",
		Tasks: []types.Task{{ID: "a", IsRequired: true}},
	}
	assert.True(t, e.Evaluate(IncompleteDueDate, ev, now))
	assert.False(t, e.Evaluate(IncompleteDueDate, ev, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)),
		"midnight of the event date is not past it")
}

func TestUnparsableDateIsFalse(t *testing.T) {
	e := newEvaluator()
	ev := &types.Event{
		Type:  types.TypeMoveIn,
		Date:  "next tuesday",
		Tasks: []types.Task{{ID: "a", IsRequired: true}},
	}
	assert.NotPanics(t, func() {
		assert.False(t, e.Evaluate(MoveInDatePassedIncomplete, ev, now))
		assert.False(t, e.Evaluate(Overdue72Hours, ev, now))
	})
}

func TestUnknownCondition_LogsAndReturnsFalse(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := New(zap.New(core), time.UTC)

	assert.NotPanics(t, func() {
		assert.False(t, e.Evaluate("moon_is_full", tourEvent(), now))
	})
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "unknown_condition", entry.Message)
	assert.Equal(t, "moon_is_full", entry.ContextMap()["condition"])
}

func TestRegister(t *testing.T) {
	e := newEvaluator()
	assert.False(t, e.Known("always"))

	e.Register("always", func(*types.Event, time.Time) bool { return true })
	assert.True(t, e.Known("always"))
	assert.True(t, e.Evaluate("always", &types.Event{}, now))
	assert.Contains(t, e.Names(), "always")
	assert.Contains(t, e.Names(), IncompleteDueDate)
}

func TestPredicatesDoNotMutate(t *testing.T) {
	e := newEvaluator()
	ev := tourEvent()
	before := ev.Clone()
	for _, name := range e.Names() {
		e.Evaluate(name, ev, now)
	}
	assert.Equal(t, before, ev)
}
