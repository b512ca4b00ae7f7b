package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testEntry(eventID, kind, summary string, hoursAgo int) Entry {
	e := NewEntry(eventID, "tour", kind, summary, base.Add(-time.Duration(hoursAgo)*time.Hour), nil)
	return e
}

func TestMemoryStore_WriteAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []Entry{
		testEntry("ev-1", KindFollowUpSent, "Sent tour-thank-you", 10),
		testEntry("ev-1", KindFallbackFired, "Rule fired", 5),
		testEntry("ev-2", KindFollowUpSent, "Sent tour-thank-you", 10),
	}
	if err := store.WriteEntries(ctx, entries); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	results, next, total, err := store.QueryByEvent(ctx, "ev-1", DefaultQueryOptions(base))
	if err != nil {
		t.Fatalf("QueryByEvent: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Kind != KindFallbackFired {
		t.Errorf("first result = %s, want newest first", results[0].Kind)
	}
	if next != "" {
		t.Errorf("next cursor = %q, want empty", next)
	}
}

func TestMemoryStore_QueryByEvent_FilterCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.WriteEntries(ctx, []Entry{
		testEntry("ev-1", KindFollowUpSent, "Sent", 10),
		testEntry("ev-1", KindEscalationSent, "Escalated", 5),
	})

	opts := DefaultQueryOptions(base)
	opts.Categories = []string{CategoryEscalation}
	results, _, total, err := store.QueryByEvent(ctx, "ev-1", opts)
	if err != nil {
		t.Fatalf("QueryByEvent: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("total = %d, results = %d, want 1", total, len(results))
	}
	if results[0].Category != CategoryEscalation {
		t.Errorf("category = %q, want %q", results[0].Category, CategoryEscalation)
	}
}

func TestMemoryStore_QueryByEvent_MinWeight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.WriteEntries(ctx, []Entry{
		testEntry("ev-1", KindFollowUpSent, "info", 3),
		testEntry("ev-1", KindFollowUpFailed, "moderate", 2),
		testEntry("ev-1", KindEscalationSent, "critical", 1),
	})

	opts := DefaultQueryOptions(base)
	opts.MinWeight = WeightModerate
	results, _, total, _ := store.QueryByEvent(ctx, "ev-1", opts)
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	for _, r := range results {
		if !IsAtLeastWeight(r.Weight, WeightModerate) {
			t.Errorf("weight %s passed a moderate filter", r.Weight)
		}
	}
}

func TestMemoryStore_QueryByEvent_TimeWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.WriteEntries(ctx, []Entry{
		testEntry("ev-1", KindFollowUpSent, "old", 24*60),
		testEntry("ev-1", KindFollowUpSent, "recent", 2),
	})

	results, _, total, _ := store.QueryByEvent(ctx, "ev-1", DefaultQueryOptions(base))
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if results[0].Summary != "recent" {
		t.Errorf("summary = %q, want recent", results[0].Summary)
	}
}

func TestMemoryStore_Pagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		store.WriteEntries(ctx, []Entry{testEntry("ev-1", KindFollowUpSent, fmt.Sprintf("e%d", i), i)})
	}

	opts := DefaultQueryOptions(base)
	opts.Limit = 2
	page1, cursor, total, _ := store.QueryByEvent(ctx, "ev-1", opts)
	if total != 5 || len(page1) != 2 {
		t.Fatalf("total = %d, page = %d, want 5 and 2", total, len(page1))
	}
	if cursor == "" {
		t.Fatal("expected a next cursor")
	}

	opts.Cursor = cursor
	page2, _, _, _ := store.QueryByEvent(ctx, "ev-1", opts)
	if len(page2) != 2 {
		t.Fatalf("page2 = %d, want 2", len(page2))
	}
	if page2[0].Summary != "e2" {
		t.Errorf("page2[0] = %q, want e2", page2[0].Summary)
	}
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.WriteEntries(ctx, []Entry{
		testEntry("ev-1", KindFollowUpSent, "Sent tour-thank-you to pat", 3),
		testEntry("ev-2", KindFollowUpSent, "Sent lease-ready to sam", 2),
	})

	results, total, err := store.Search(ctx, "TOUR", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || results[0].EventID != "ev-1" {
		t.Errorf("search = %+v, want ev-1 only", results)
	}
}

func TestNewEntry_ClassifiesAndMarshals(t *testing.T) {
	e := NewEntry("ev-1", "payment", KindEscalationSent, "Escalated", base, map[string]string{"action": "escalate_to_manager"})
	if e.ID == "" {
		t.Error("expected an id")
	}
	if e.Category != CategoryEscalation || e.Weight != WeightCritical || e.Polarity != PolarityNegative {
		t.Errorf("classification = %s/%s/%s", e.Category, e.Weight, e.Polarity)
	}
	var payload map[string]string
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["action"] != "escalate_to_manager" {
		t.Errorf("payload = %v", payload)
	}
}

type capturePublisher struct{ got []Entry }

func (c *capturePublisher) Publish(_ context.Context, e Entry) { c.got = append(c.got, e) }

func TestStoreRecorder_WritesThenPublishes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &capturePublisher{}
	rec := NewStoreRecorder(store)
	rec.SetPublisher(pub)

	e := testEntry("ev-1", KindTaskCompleted, "Task done", 0)
	if err := rec.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(pub.got) != 1 || pub.got[0].ID != e.ID {
		t.Errorf("published = %+v", pub.got)
	}
	_, _, total, _ := store.QueryByEvent(ctx, "ev-1", QueryOptions{})
	if total != 1 {
		t.Errorf("stored = %d, want 1", total)
	}
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		testEntry("ev-1", KindFollowUpSent, "a", 20),
		testEntry("ev-1", KindFallbackFired, "b", 10),
		testEntry("ev-1", KindEscalationSent, "c", 1),
	}
	s := Summarize(entries, "ev-1", base.Add(-24*time.Hour), base)
	if s.Health != "critical" {
		t.Errorf("health = %s, want critical", s.Health)
	}
	if got := s.Categories[CategoryFollowUp].Count; got != 1 {
		t.Errorf("follow_up count = %d, want 1", got)
	}
	if got := s.Categories[CategoryFallback].DominantPolarity; got != PolarityNegative {
		t.Errorf("fallback polarity = %s", got)
	}

	quiet := Summarize(entries[:1], "ev-1", base.Add(-24*time.Hour), base)
	if quiet.Health != "healthy" {
		t.Errorf("health = %s, want healthy", quiet.Health)
	}
}
