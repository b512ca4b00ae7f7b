package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/matthewbaird/lifecycle/internal/types"
)

// MemoryStore keeps events in a map. Events are cloned on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*types.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*types.Event)}
}

func (s *MemoryStore) LoadActive(_ context.Context) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Event
	for _, ev := range s.events {
		if !ev.Status.Terminal() {
			out = append(out, ev.Clone())
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return ev.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Event
	for _, ev := range s.events {
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		if opts.Status != "" && ev.Status != opts.Status {
			continue
		}
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	if len(out) > opts.limit() {
		out = out[:opts.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, ev *types.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("save: event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev.Clone()
	return nil
}

// sortEvents orders by schedule then id, matching the SQL backends.
func sortEvents(evs []*types.Event) {
	sort.Slice(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID < b.ID
	})
}
