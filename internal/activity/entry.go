// Package activity records what the lifecycle engine did to each event: rules that
// fired, escalations sent, follow-ups delivered or failed, tasks completed. Entries are
// written to a Store and published to downstream consumers (log, WebSocket feed).
package activity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry kinds.
const (
	KindEventCreated   = "event_created"
	KindTaskCompleted  = "task_completed"
	KindFallbackFired  = "fallback_fired"
	KindEscalationSent = "escalation_sent"
	KindFollowUpSent   = "follow_up_sent"
	KindFollowUpFailed = "follow_up_failed"
	KindEventFailed    = "event_failed"
)

// Categories group entries for filtering.
const (
	CategoryLifecycle  = "lifecycle"
	CategoryTask       = "task"
	CategoryFallback   = "fallback"
	CategoryEscalation = "escalation"
	CategoryFollowUp   = "follow_up"
)

// Polarity values.
const (
	PolarityPositive = "positive"
	PolarityNeutral  = "neutral"
	PolarityNegative = "negative"
)

// Weight values, most severe first.
const (
	WeightCritical = "critical"
	WeightStrong   = "strong"
	WeightModerate = "moderate"
	WeightWeak     = "weak"
	WeightInfo     = "info"
)

// WeightOrder maps weights to severity (lower is more severe).
var WeightOrder = map[string]int{
	WeightCritical: 1,
	WeightStrong:   2,
	WeightModerate: 3,
	WeightWeak:     4,
	WeightInfo:     5,
}

// WeightSeverity returns the severity of weight; unknown weights rank below info.
func WeightSeverity(weight string) int {
	if s, ok := WeightOrder[weight]; ok {
		return s
	}
	return 6
}

// IsAtLeastWeight reports whether actual is at least as severe as minimum.
func IsAtLeastWeight(actual, minimum string) bool {
	return WeightSeverity(actual) <= WeightSeverity(minimum)
}

// Entry is one activity record about an event.
type Entry struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Weight     string          `json:"weight"`
	Polarity   string          `json:"polarity"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEntry fills in an ID and marshals payload. A payload that cannot be marshalled
// is dropped.
func NewEntry(eventID, eventType, kind, summary string, at time.Time, payload any) Entry {
	category, weight, polarity := Classify(kind)
	e := Entry{
		ID:         uuid.New().String(),
		EventID:    eventID,
		EventType:  eventType,
		Kind:       kind,
		OccurredAt: at,
		Summary:    summary,
		Category:   category,
		Weight:     weight,
		Polarity:   polarity,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.Payload = b
		}
	}
	return e
}

// Classify returns the category, weight and polarity of an entry kind.
func Classify(kind string) (category, weight, polarity string) {
	switch kind {
	case KindEventCreated:
		return CategoryLifecycle, WeightInfo, PolarityNeutral
	case KindTaskCompleted:
		return CategoryTask, WeightWeak, PolarityPositive
	case KindFallbackFired:
		return CategoryFallback, WeightStrong, PolarityNegative
	case KindEscalationSent:
		return CategoryEscalation, WeightCritical, PolarityNegative
	case KindFollowUpSent:
		return CategoryFollowUp, WeightInfo, PolarityPositive
	case KindFollowUpFailed:
		return CategoryFollowUp, WeightModerate, PolarityNegative
	case KindEventFailed:
		return CategoryLifecycle, WeightStrong, PolarityNegative
	default:
		return CategoryLifecycle, WeightInfo, PolarityNeutral
	}
}
