package activity

import "time"

// QueryOptions controls filtering and pagination for per-event activity queries.
type QueryOptions struct {
	Since      *time.Time
	Until      *time.Time
	Categories []string // filter to specific categories
	MinWeight  string   // minimum weight threshold (default: "info")
	Limit      int      // max results (default: 100, max: 500)
	Cursor     string   // occurred_at of the last entry of the previous page
}

// SearchOptions controls filtering for activity summary search.
type SearchOptions struct {
	EventType  string
	Since      *time.Time
	Categories []string
	Limit      int // max results (default: 20)
}

// DefaultQueryOptions returns QueryOptions covering the last 30 days.
func DefaultQueryOptions(now time.Time) QueryOptions {
	since := now.AddDate(0, 0, -30)
	return QueryOptions{
		Since:     &since,
		MinWeight: WeightInfo,
		Limit:     100,
	}
}

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return 20
	}
	return o.Limit
}
