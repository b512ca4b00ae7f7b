// Package store persists Event aggregates. The engine only needs to load the
// non-terminal working set and save mutations; backends store the event as a JSON
// document next to a few indexed columns.
package store

import (
	"context"
	"errors"

	"github.com/matthewbaird/lifecycle/internal/types"
)

// ErrNotFound is returned when an event id is unknown.
var ErrNotFound = errors.New("event not found")

// ListOptions filters List.
type ListOptions struct {
	Type   string
	Status types.EventStatus
	Limit  int // default 100, max 1000
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return 100
	}
	if o.Limit > 1000 {
		return 1000
	}
	return o.Limit
}

// EventStore is the data-access boundary of the lifecycle engine.
type EventStore interface {
	// LoadActive returns every event that is not completed or cancelled.
	LoadActive(ctx context.Context) ([]*types.Event, error)
	Get(ctx context.Context, id string) (*types.Event, error)
	List(ctx context.Context, opts ListOptions) ([]*types.Event, error)
	// Save inserts or replaces the event.
	Save(ctx context.Context, ev *types.Event) error
}

var terminalStatuses = []any{string(types.StatusCompleted), string(types.StatusCancelled)}
