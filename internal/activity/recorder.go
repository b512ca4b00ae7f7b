package activity

import "context"

// Recorder accepts activity entries from the engine.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Publisher sends entries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Entry)
}

// StoreRecorder writes entries to a Store and, once the write succeeds, publishes them.
type StoreRecorder struct {
	store Store
	bus   Publisher
}

func NewStoreRecorder(store Store) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// SetPublisher attaches an event bus.
func (r *StoreRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

func (r *StoreRecorder) Record(ctx context.Context, e Entry) error {
	if err := r.store.WriteEntries(ctx, []Entry{e}); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(ctx, e)
	}
	return nil
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) error { return nil }
