// Package event implements the behaviour of the Event aggregate: instantiating an
// event from its type definition, computing its scheduled instant, moving it in time,
// and completing tasks under dependency gating.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// ErrInvalidSchedule is returned when an event's date or time cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid event schedule")

// Params carries the caller-supplied fields of a new event.
type Params struct {
	ID            string
	Title         string
	Description   string
	Date          string // YYYY-MM-DD
	Time          string // HH:MM, optional
	AssignedUsers []types.AssignedUser
	Metadata      types.Metadata
}

func newID() string { return uuid.New().String() }

// New builds a scheduled Event of the given type. Tasks are cloned from the type's
// default templates; tasks with dependencies start locked.
func New(def types.EventTypeDefinition, p Params, now time.Time) (*types.Event, error) {
	if _, err := time.Parse(types.DateLayout, p.Date); err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidSchedule, p.Date)
	}
	if p.Time != "" {
		if _, err := time.Parse(types.TimeLayout, p.Time); err != nil {
			return nil, fmt.Errorf("%w: time %q", ErrInvalidSchedule, p.Time)
		}
	}
	id := p.ID
	if id == "" {
		id = newID()
	}
	title := p.Title
	if title == "" {
		title = def.Name
	}

	ev := &types.Event{
		ID:              id,
		Type:            def.ID,
		Title:           title,
		Description:     p.Description,
		Date:            p.Date,
		Time:            p.Time,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          types.StatusScheduled,
		Tasks:           TasksFromTemplates(def.DefaultTasks),
		AssignedUsers:   append([]types.AssignedUser(nil), p.AssignedUsers...),
		FollowUpHistory: []types.FollowUpRecord{},
		Metadata:        p.Metadata.Clone(),
	}
	return ev, nil
}

// Day returns midnight of the event's date in loc.
func Day(ev *types.Event, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(types.DateLayout, ev.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidSchedule, ev.Date)
	}
	return d, nil
}

// ScheduledAt returns the event's date and time in loc. A missing time means midnight.
func ScheduledAt(ev *types.Event, loc *time.Location) (time.Time, error) {
	if ev.Time == "" {
		return Day(ev, loc)
	}
	t, err := time.ParseInLocation(types.DateLayout+" "+types.TimeLayout, ev.Date+" "+ev.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidSchedule, ev.Date, ev.Time)
	}
	return t, nil
}

// Slot identifies the event's current scheduled occurrence.
func Slot(ev *types.Event) string {
	return ev.Date + " " + ev.Time
}

// Reschedule moves the event by delay and counts the reschedule.
func Reschedule(ev *types.Event, delay time.Duration, loc *time.Location, now time.Time) error {
	at, err := ScheduledAt(ev, loc)
	if err != nil {
		return err
	}
	next := at.Add(delay)
	ev.Date = next.Format(types.DateLayout)
	if ev.Time != "" || next.Hour() != 0 || next.Minute() != 0 {
		ev.Time = next.Format(types.TimeLayout)
	}
	ev.RescheduledCount++
	ev.UpdatedAt = now
	return nil
}

// MarkFired records that ruleKey fired for the event's current slot.
func MarkFired(ev *types.Event, ruleKey string, now time.Time) {
	ev.RuleFirings = append(ev.RuleFirings, types.RuleFiring{
		RuleKey: ruleKey,
		Slot:    Slot(ev),
		FiredAt: now,
	})
}
