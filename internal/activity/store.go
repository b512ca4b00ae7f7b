package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes activity entries.
type Store interface {
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryByEvent returns entries for one event, newest first.
	QueryByEvent(ctx context.Context, eventID string, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)

	// Search matches query against entry summaries.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []Entry, totalCount int, err error)
}

// PostgresStore implements Store on a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureTable creates the activity_entries table and its indexes.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS activity_entries (
			id          TEXT PRIMARY KEY,
			event_id    TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			kind        TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			summary     TEXT NOT NULL,
			category    TEXT NOT NULL,
			weight      TEXT NOT NULL,
			polarity    TEXT NOT NULL,
			payload     JSONB
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_activity_event_time ON activity_entries (event_id, occurred_at DESC)`)
	return err
}

func (s *PostgresStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		batch.Queue(`
			INSERT INTO activity_entries (id, event_id, event_type, kind, occurred_at, summary, category, weight, polarity, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
			ON CONFLICT DO NOTHING`,
			e.ID, e.EventID, e.EventType, e.Kind, e.OccurredAt, e.Summary, e.Category, e.Weight, e.Polarity, payload)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryByEvent(ctx context.Context, eventID string, opts QueryOptions) ([]Entry, string, int, error) {
	limit := opts.limit()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "event_id = "+arg(eventID))
	if opts.Since != nil {
		conds = append(conds, "occurred_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		conds = append(conds, "occurred_at <= "+arg(*opts.Until))
	}
	if len(opts.Categories) > 0 {
		conds = append(conds, "category = ANY("+arg(opts.Categories)+")")
	}
	if opts.MinWeight != "" && opts.MinWeight != WeightInfo {
		var weights []string
		for w, sev := range WeightOrder {
			if sev <= WeightSeverity(opts.MinWeight) {
				weights = append(weights, w)
			}
		}
		conds = append(conds, "weight = ANY("+arg(weights)+")")
	}
	if opts.Cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			conds = append(conds, "occurred_at < "+arg(t))
		}
	}

	where := strings.Join(conds, " AND ")
	filterArgs := append([]any(nil), args...)
	query := fmt.Sprintf(`
		SELECT id, event_id, event_type, kind, occurred_at, summary, category, weight, polarity, payload
		FROM activity_entries
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT %s`, where, arg(limit+1))

	entries, err := s.scan(ctx, query, args...)
	if err != nil {
		return nil, "", 0, fmt.Errorf("querying activity for %s: %w", eventID, err)
	}

	var next string
	if len(entries) > limit {
		entries = entries[:limit]
		next = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, filterArgs...).Scan(&total); err != nil {
		return nil, "", 0, fmt.Errorf("counting activity for %s: %w", eventID, err)
	}
	return entries, next, total, nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, int, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "summary ILIKE '%' || "+arg(query)+" || '%'")
	if opts.EventType != "" {
		conds = append(conds, "event_type = "+arg(opts.EventType))
	}
	if opts.Since != nil {
		conds = append(conds, "occurred_at >= "+arg(*opts.Since))
	}
	if len(opts.Categories) > 0 {
		conds = append(conds, "category = ANY("+arg(opts.Categories)+")")
	}

	where := strings.Join(conds, " AND ")
	filterArgs := append([]any(nil), args...)
	sqlQuery := fmt.Sprintf(`
		SELECT id, event_id, event_type, kind, occurred_at, summary, category, weight, polarity, payload
		FROM activity_entries
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT %s`, where, arg(opts.limit()))

	entries, err := s.scan(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("searching activity: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, filterArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting activity search: %w", err)
	}
	return entries, total, nil
}

func (s *PostgresStore) scan(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Kind, &e.OccurredAt,
			&e.Summary, &e.Category, &e.Weight, &e.Polarity, &payload); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
