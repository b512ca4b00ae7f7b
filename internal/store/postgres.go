package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matthewbaird/lifecycle/internal/types"
)

// PgStore is a PostgreSQL-backed EventStore.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the events table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			status     TEXT NOT NULL,
			date       TEXT NOT NULL,
			time       TEXT NOT NULL DEFAULT '',
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS event_status ON events(status)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS event_type_status ON events(type, status)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS event_date_time ON events(date, time)`)
	return err
}

func (s *PgStore) LoadActive(ctx context.Context) ([]*types.Event, error) {
	evs, err := s.scanMany(ctx, `
		SELECT data FROM events
		WHERE status NOT IN ($1, $2)
		ORDER BY date, time, id`, terminalStatuses...)
	if err != nil {
		return nil, fmt.Errorf("loading active events: %w", err)
	}
	return evs, nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*types.Event, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM events WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &ev, nil
}

func (s *PgStore) List(ctx context.Context, opts ListOptions) ([]*types.Event, error) {
	evs, err := s.scanMany(ctx, `
		SELECT data FROM events
		WHERE ($1 = '' OR type = $1) AND ($2 = '' OR status = $2)
		ORDER BY date, time, id
		LIMIT $3`, opts.Type, string(opts.Status), opts.limit())
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return evs, nil
}

func (s *PgStore) Save(ctx context.Context, ev *types.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("save: event id is required")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, type, status, date, time, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			date = EXCLUDED.date,
			time = EXCLUDED.time,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		ev.ID, ev.Type, string(ev.Status), ev.Date, ev.Time, string(data), ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]*types.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
