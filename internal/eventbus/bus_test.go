package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matthewbaird/lifecycle/internal/activity"
)

type collector struct {
	mu    sync.Mutex
	kinds []string
}

func (c *collector) HandleEntry(_ context.Context, e activity.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, e.Kind)
	return nil
}

func (c *collector) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.kinds...)
}

func entry(kind string) activity.Entry {
	return activity.NewEntry("ev-1", "tour", kind, kind, time.Now(), nil)
}

func TestBus_DeliversToAllSubscribersInOrder(t *testing.T) {
	bus := New(16, zap.NewNop())
	a, b := &collector{}, &collector{}
	bus.Subscribe("a", a)
	bus.Subscribe("b", b)
	bus.Start(context.Background())

	bus.Publish(context.Background(), entry(activity.KindFallbackFired))
	bus.Publish(context.Background(), entry(activity.KindFollowUpSent))
	bus.Stop()

	want := []string{activity.KindFallbackFired, activity.KindFollowUpSent}
	assert.Equal(t, want, a.Kinds())
	assert.Equal(t, want, b.Kinds())
}

func TestBus_HandlerErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := New(4, zap.New(core))
	ok := &collector{}
	bus.Subscribe("broken", HandlerFunc(func(context.Context, activity.Entry) error {
		return errors.New("boom")
	}))
	bus.Subscribe("ok", ok)
	bus.Start(context.Background())

	bus.Publish(context.Background(), entry(activity.KindEscalationSent))
	bus.Stop()

	assert.Equal(t, []string{activity.KindEscalationSent}, ok.Kinds())
	require.Equal(t, 1, logs.FilterMessage("handler_failed").Len())
	assert.Equal(t, "broken", logs.FilterMessage("handler_failed").All()[0].ContextMap()["handler"])
}

func TestBus_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := New(1, zap.New(core))

	bus.Publish(context.Background(), entry(activity.KindFollowUpSent))
	bus.Publish(context.Background(), entry(activity.KindFollowUpSent))

	assert.Equal(t, 1, logs.FilterMessage("buffer_full_dropping_entry").Len())
}

func TestBus_ContextCancelDrains(t *testing.T) {
	bus := New(8, zap.NewNop())
	c := &collector{}
	bus.Subscribe("c", c)
	bus.Publish(context.Background(), entry(activity.KindTaskCompleted))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Start(ctx)
	bus.Stop()

	assert.Equal(t, []string{activity.KindTaskCompleted}, c.Kinds())
}

func TestStoreRecorder_PublishesThroughBus(t *testing.T) {
	bus := New(8, zap.NewNop())
	c := &collector{}
	bus.Subscribe("c", c)
	bus.Subscribe("log", NewLogConsumer(zap.NewNop()))
	bus.Start(context.Background())

	rec := activity.NewStoreRecorder(activity.NewMemoryStore())
	rec.SetPublisher(bus)
	require.NoError(t, rec.Record(context.Background(), entry(activity.KindEventCreated)))
	bus.Stop()

	assert.Equal(t, []string{activity.KindEventCreated}, c.Kinds())
}
