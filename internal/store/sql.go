package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/lifecycle/internal/types"
)

// SQLStore implements EventStore with ent's SQL builder over a database/sql handle.
type SQLStore struct {
	drv     *entsql.Driver
	dialect string
}

// OpenSQLite opens a SQLite database through the modernc driver, which the caller
// registers with a blank import of modernc.org/sqlite.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return NewSQLStore(entsql.OpenDB(dialect.SQLite, db)), nil
}

// NewSQLStore wraps an ent driver.
func NewSQLStore(drv *entsql.Driver) *SQLStore {
	return &SQLStore{drv: drv, dialect: drv.Dialect()}
}

// Driver exposes the ent driver for schema migration.
func (s *SQLStore) Driver() *entsql.Driver { return s.drv }

// Migrate creates the events table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.drv)
}

func (s *SQLStore) Close() error { return s.drv.Close() }

func (s *SQLStore) builder() *entsql.DialectBuilder { return entsql.Dialect(s.dialect) }

func (s *SQLStore) selectData() *entsql.Selector {
	b := s.builder()
	return b.Select("data").From(b.Table(EventsTable.Name))
}

func (s *SQLStore) LoadActive(ctx context.Context) ([]*types.Event, error) {
	sel := s.selectData().
		Where(entsql.NotIn("status", terminalStatuses...)).
		OrderBy("date", "time", "id")
	evs, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("loading active events: %w", err)
	}
	return evs, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*types.Event, error) {
	evs, err := s.query(ctx, s.selectData().Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(evs) == 0 {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return evs[0], nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*types.Event, error) {
	var preds []*entsql.Predicate
	if opts.Type != "" {
		preds = append(preds, entsql.EQ("type", opts.Type))
	}
	if opts.Status != "" {
		preds = append(preds, entsql.EQ("status", string(opts.Status)))
	}
	sel := s.selectData()
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	sel = sel.OrderBy("date", "time", "id").Limit(opts.limit())
	evs, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return evs, nil
}

func (s *SQLStore) Save(ctx context.Context, ev *types.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("save: event id is required")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("save %s: %w", ev.ID, err)
	}
	query, args := s.builder().Insert(EventsTable.Name).
		Columns("id", "type", "status", "date", "time", "data", "created_at", "updated_at").
		Values(ev.ID, ev.Type, string(ev.Status), ev.Date, ev.Time, string(data), ev.CreatedAt, ev.UpdatedAt).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("save %s: %w", ev.ID, err)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, sel *entsql.Selector) ([]*types.Event, error) {
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
