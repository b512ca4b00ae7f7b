package activity

import "time"

// CategorySummary counts one category's entries.
type CategorySummary struct {
	Category         string         `json:"category"`
	Count            int            `json:"count"`
	ByWeight         map[string]int `json:"by_weight"`
	ByPolarity       map[string]int `json:"by_polarity"`
	DominantPolarity string         `json:"dominant_polarity"`
	Trend            string         `json:"trend"`
}

// Summary condenses an event's activity into per-category counts and a health verdict.
type Summary struct {
	EventID      string                     `json:"event_id"`
	Since        time.Time                  `json:"since"`
	Until        time.Time                  `json:"until"`
	Categories   map[string]CategorySummary `json:"categories"`
	Health       string                     `json:"health"`
	HealthReason string                     `json:"health_reason"`
}

// Summarize aggregates entries recorded between since and until.
func Summarize(entries []Entry, eventID string, since, until time.Time) Summary {
	cats := make(map[string]*CategorySummary)
	for _, e := range entries {
		cs, ok := cats[e.Category]
		if !ok {
			cs = &CategorySummary{
				Category:   e.Category,
				ByWeight:   make(map[string]int),
				ByPolarity: make(map[string]int),
			}
			cats[e.Category] = cs
		}
		cs.Count++
		cs.ByWeight[e.Weight]++
		cs.ByPolarity[e.Polarity]++
	}

	out := make(map[string]CategorySummary, len(cats))
	for cat, cs := range cats {
		cs.DominantPolarity = dominantPolarity(cs.ByPolarity)
		cs.Trend = trend(entries, cat, since, until)
		out[cat] = *cs
	}

	health, reason := health(out)
	return Summary{
		EventID:      eventID,
		Since:        since,
		Until:        until,
		Categories:   out,
		Health:       health,
		HealthReason: reason,
	}
}

// dominantPolarity returns the most frequent polarity. Ties resolve negative first.
func dominantPolarity(byPolarity map[string]int) string {
	best, bestCount := "", 0
	for _, p := range []string{PolarityNegative, PolarityNeutral, PolarityPositive} {
		if c := byPolarity[p]; c > bestCount {
			best, bestCount = p, c
		}
	}
	return best
}

// trend compares volume in the first and second half of the window.
func trend(entries []Entry, category string, since, until time.Time) string {
	mid := since.Add(until.Sub(since) / 2)
	var first, second int
	for _, e := range entries {
		if e.Category != category {
			continue
		}
		if e.OccurredAt.Before(mid) {
			first++
		} else {
			second++
		}
	}
	switch {
	case second > first+1:
		return "increasing"
	case first > second+1:
		return "decreasing"
	default:
		return "stable"
	}
}

func health(categories map[string]CategorySummary) (string, string) {
	var critical, strong, negative, positive int
	for _, cs := range categories {
		critical += cs.ByWeight[WeightCritical]
		strong += cs.ByWeight[WeightStrong]
		negative += cs.ByPolarity[PolarityNegative]
		positive += cs.ByPolarity[PolarityPositive]
	}
	switch {
	case critical > 0:
		return "critical", "Escalations have been sent for this event."
	case strong >= 2 || negative > positive*2:
		return "at_risk", "Fallback rules fired or deliveries failed repeatedly."
	case negative > positive:
		return "mixed", "More failures than successes, no escalations."
	default:
		return "healthy", "Activity is predominantly positive or neutral."
	}
}
