// Package types provides the Go structs shared by the lifecycle engine: event type
// definitions from the catalog, the mutable Event aggregate with its tasks, and the
// records the engine appends while monitoring. These types are stored as JSON columns
// by the event stores and travel unchanged over the HTTP and WebSocket surfaces.
package types

import (
	"time"
)

// Role identifies who is expected to act on a task or receive a message.
type Role string

const (
	RoleResident    Role = "resident"
	RoleOperator    Role = "operator"
	RoleMaintenance Role = "maintenance"
	RoleProspect    Role = "prospect"
	RoleVendor      Role = "vendor"
)

// EventStatus is the lifecycle status of an Event.
type EventStatus string

const (
	StatusScheduled  EventStatus = "scheduled"
	StatusInProgress EventStatus = "in-progress"
	StatusCompleted  EventStatus = "completed"
	StatusCancelled  EventStatus = "cancelled"
)

// Terminal reports whether monitoring must ignore events in this status.
func (s EventStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TaskStatus is the availability of a task within its event.
type TaskStatus string

const (
	TaskLocked    TaskStatus = "locked"
	TaskAvailable TaskStatus = "available"
	TaskCompleted TaskStatus = "completed"
)

// Well-known event type IDs referenced by condition predicates.
const (
	TypeMoveIn             = "move-in"
	TypeMoveOut            = "move-out"
	TypeTour               = "tour"
	TypeLeaseSigning       = "lease-signing"
	TypePayment            = "payment"
	TypeWorkOrder          = "work-order"
	TypeInspection         = "inspection"
	TypeAmenityReservation = "amenity-reservation"
	TypeCommunityEvent     = "community-event"
)

// Task kinds are stable tags that predicates use instead of matching display titles.
const (
	KindSignature  = "signature"
	KindTour       = "tour"
	KindInspection = "inspection"
	KindPayment    = "payment"
)

// FallbackAction is what a FallbackRule does once its condition holds.
type FallbackAction string

const (
	ActionAutoCancel FallbackAction = "auto-cancel"
	ActionReschedule FallbackAction = "reschedule"
	ActionEscalate   FallbackAction = "escalate"
	ActionArchive    FallbackAction = "archive"
)

// EscalationAction is who an EscalationRule notifies.
type EscalationAction string

const (
	EscalateToManager     EscalationAction = "escalate_to_manager"
	EscalateToCollections EscalationAction = "escalate_to_collections"
)

// ─── Catalog types ──────────────────────────────────────────────────────────

// EventTypeDefinition is an immutable catalog entry describing one kind of event.
type EventTypeDefinition struct {
	ID                       string           `json:"id"`
	Name                     string           `json:"name"`
	Category                 string           `json:"category"`
	Icon                     string           `json:"icon,omitempty"`
	Description              string           `json:"description,omitempty"`
	EstimatedDurationMinutes int              `json:"estimated_duration_minutes"`
	AllowsReschedule         bool             `json:"allows_reschedule"`
	DefaultTasks             []TaskTemplate   `json:"default_tasks,omitempty"`
	FallbackRules            []FallbackRule   `json:"fallback_rules,omitempty"`
	EscalationRules          []EscalationRule `json:"escalation_rules,omitempty"`
	OverdueThresholdHours    float64          `json:"overdue_threshold_hours"`
}

// TaskTemplate is the catalog blueprint a Task is cloned from.
type TaskTemplate struct {
	ID                       string   `json:"id"`
	Kind                     string   `json:"kind,omitempty"`
	Title                    string   `json:"title"`
	Description              string   `json:"description,omitempty"`
	AssignedRole             Role     `json:"assigned_role"`
	IsRequired               bool     `json:"is_required"`
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes"`
	Dependencies             []string `json:"dependencies,omitempty"` // sibling task IDs
}

// FallbackRule resolves a stalled event once Condition evaluates true.
type FallbackRule struct {
	ID           string         `json:"id"`
	Condition    string         `json:"condition"`
	Action       FallbackAction `json:"action"`
	DelayHours   float64        `json:"delay_hours,omitempty"` // reschedule only
	Notification string         `json:"notification,omitempty"`
}

// EscalationRule notifies staff once an event is Threshold hours overdue.
type EscalationRule struct {
	Threshold    float64          `json:"threshold"`
	Action       EscalationAction `json:"action"`
	Notification string           `json:"notification,omitempty"`
}

// CommunicationTemplate is a timed follow-up message for an event type.
// Negative DelayHours means "before the event" and is only meaningful for tours.
type CommunicationTemplate struct {
	ID             string  `json:"id"`
	EventType      string  `json:"event_type"`
	Name           string  `json:"name"`
	Channel        string  `json:"channel,omitempty"` // "email", "sms"
	Subject        string  `json:"subject,omitempty"`
	DelayHours     float64 `json:"delay_hours"`
	Condition      string  `json:"condition,omitempty"`
	StopOnResponse bool    `json:"stop_on_response,omitempty"`
}

// ─── Event aggregate ────────────────────────────────────────────────────────

// Task is one checklist item of an Event.
type Task struct {
	ID                       string     `json:"id"`
	Kind                     string     `json:"kind,omitempty"`
	Title                    string     `json:"title"`
	Description              string     `json:"description,omitempty"`
	AssignedRole             Role       `json:"assigned_role"`
	IsRequired               bool       `json:"is_required"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	Dependencies             []string   `json:"dependencies,omitempty"`
	Status                   TaskStatus `json:"status"`
	IsComplete               bool       `json:"is_complete"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
}

// AssignedUser is a participant of an event, already resolved by the host.
type AssignedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// FollowUpRecord marks a communication template as already sent for an event.
type FollowUpRecord struct {
	ID             string    `json:"id"`
	TemplateID     string    `json:"template_id"`
	DelayHours     float64   `json:"delay_hours"`
	Condition      string    `json:"condition,omitempty"`
	StopOnResponse bool      `json:"stop_on_response,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// RuleFiring marks a fallback or escalation rule as fired for one scheduled slot
// of an event. Slot is the event's "date time" at the moment the rule fired.
type RuleFiring struct {
	RuleKey string    `json:"rule_key"`
	Slot    string    `json:"slot"`
	FiredAt time.Time `json:"fired_at"`
}

// Event is one scheduled occurrence of an event type.
type Event struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Date             string           `json:"date"` // YYYY-MM-DD
	Time             string           `json:"time"` // HH:MM
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Status           EventStatus      `json:"status"`
	Tasks            []Task           `json:"tasks"`
	AssignedUsers    []AssignedUser   `json:"assigned_users"`
	RescheduledCount int              `json:"rescheduled_count"`
	FollowUpHistory  []FollowUpRecord `json:"follow_up_history"`
	RuleFirings      []RuleFiring     `json:"rule_firings,omitempty"`
	Metadata         Metadata         `json:"metadata"`
}

// HasFollowUp reports whether templateID has already been sent for the event.
func (e *Event) HasFollowUp(templateID string) bool {
	for _, f := range e.FollowUpHistory {
		if f.TemplateID == templateID {
			return true
		}
	}
	return false
}

// HasFired reports whether ruleKey already fired for the given slot.
func (e *Event) HasFired(ruleKey, slot string) bool {
	for _, f := range e.RuleFirings {
		if f.RuleKey == ruleKey && f.Slot == slot {
			return true
		}
	}
	return false
}

// FirstUserWithRole returns the first assigned user with the given role.
func (e *Event) FirstUserWithRole(role Role) (AssignedUser, bool) {
	for _, u := range e.AssignedUsers {
		if u.Role == role && u.Email != "" {
			return u, true
		}
	}
	return AssignedUser{}, false
}

// Clone returns a deep copy so stores and the monitor never share mutable state.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Tasks = nil
	if e.Tasks != nil {
		c.Tasks = make([]Task, len(e.Tasks))
	}
	for i, t := range e.Tasks {
		t.Dependencies = append([]string(nil), t.Dependencies...)
		if t.CompletedAt != nil {
			at := *t.CompletedAt
			t.CompletedAt = &at
		}
		c.Tasks[i] = t
	}
	c.AssignedUsers = append([]AssignedUser(nil), e.AssignedUsers...)
	c.FollowUpHistory = append([]FollowUpRecord(nil), e.FollowUpHistory...)
	c.RuleFirings = append([]RuleFiring(nil), e.RuleFirings...)
	if e.Metadata != nil {
		c.Metadata = e.Metadata.Clone()
	}
	return &c
}

// ─── Engine records ─────────────────────────────────────────────────────────

// FallbackRecord is one entry of the engine's append-only audit history.
type FallbackRecord struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	RuleID      string         `json:"rule_id"`
	Action      FallbackAction `json:"action"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Reason      string         `json:"reason"`
	Result      string         `json:"result"`
}
