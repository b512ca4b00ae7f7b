// Package eventbus provides an in-process pub/sub bus for activity entries.
// The recorder publishes entries after they are stored; subscribers process them
// on a single consumer goroutine.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
)

// Handler processes an activity entry.
type Handler interface {
	HandleEntry(ctx context.Context, e activity.Entry) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, e activity.Entry) error

func (f HandlerFunc) HandleEntry(ctx context.Context, e activity.Entry) error {
	return f(ctx, e)
}

// Bus is a simple in-process event bus. Entries are published to a buffered
// channel and dispatched to all subscribers in a single consumer goroutine, so
// handlers never run concurrently with each other.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers []namedHandler
	entries     chan activity.Entry
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a new Bus with the given channel buffer size.
func New(bufSize int, logger *zap.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		logger:  logger.Named("eventbus"),
		entries: make(chan activity.Entry, bufSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a named handler.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish sends an entry to the bus. Non-blocking: if the buffer is full the
// entry is dropped and a warning is logged.
func (b *Bus) Publish(_ context.Context, e activity.Entry) {
	select {
	case b.entries <- e:
	default:
		b.logger.Warn("buffer_full_dropping_entry",
			zap.String("kind", e.Kind),
			zap.String("entry_id", e.ID),
		)
	}
}

// Start begins the consumer goroutine. It processes entries until the context
// is cancelled or Stop is called, then drains what is buffered.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case e := <-b.entries:
				b.dispatch(ctx, e)
			case <-ctx.Done():
				b.drain(ctx)
				return
			case <-b.quit:
				b.drain(ctx)
				return
			}
		}
	}()
}

// Stop waits for the consumer goroutine to finish.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.quit) })
	<-b.done
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case e := <-b.entries:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e activity.Entry) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEntry(ctx, e); err != nil {
			b.logger.Error("handler_failed",
				zap.String("handler", s.name),
				zap.String("kind", e.Kind),
				zap.Error(err),
			)
		}
	}
}
