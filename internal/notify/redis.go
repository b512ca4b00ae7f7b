package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list an external mailer consumes.
const DefaultQueueKey = "lifecycle:notifications"

// RedisDispatcher enqueues notifications on a Redis list for an out-of-process mailer.
type RedisDispatcher struct {
	client redis.UniversalClient
	key    string
}

func NewRedisDispatcher(client redis.UniversalClient, key string) *RedisDispatcher {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisDispatcher{client: client, key: key}
}

func (d *RedisDispatcher) Send(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := d.client.LPush(ctx, d.key, b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", n.TemplateID, err)
	}
	return nil
}
