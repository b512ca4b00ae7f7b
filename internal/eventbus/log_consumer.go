package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
)

// LogConsumer logs all activity entries for observability.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	return &LogConsumer{logger: logger.Named("activity")}
}

func (c *LogConsumer) HandleEntry(_ context.Context, e activity.Entry) error {
	c.logger.Info(e.Kind,
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("category", e.Category),
		zap.String("weight", e.Weight),
		zap.String("summary", e.Summary),
	)
	return nil
}
