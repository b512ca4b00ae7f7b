// Package notify is the boundary between the lifecycle engine and outbound messaging.
// The engine decides which template to send to whom; a Dispatcher hands that decision
// to a delivery service.
package notify

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

// Template IDs the fallback engine dispatches.
const (
	TemplateEventCancelled        = "event-cancelled"
	TemplateEventEscalation       = "event-escalation"
	TemplateEscalateToManager     = "escalate-to-manager"
	TemplateEscalateToCollections = "escalate-to-collections"
)

// ErrNoRecipient is returned when a notification has no address.
var ErrNoRecipient = errors.New("notification has no recipient")

// Notification is one message to deliver.
type Notification struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Variables  map[string]string `json:"variables"`
}

// Dispatcher delivers notifications. A nil error means the delivery service accepted
// the message, not that it reached the recipient.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger.Named("notify")}
}

func (d *LogDispatcher) Send(_ context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	keys := make([]string, 0, len(n.Variables))
	for k := range n.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d.logger.Info("notification_sent",
		zap.String("template_id", n.TemplateID),
		zap.String("recipient", n.Recipient),
		zap.Strings("variables", keys),
	)
	return nil
}
