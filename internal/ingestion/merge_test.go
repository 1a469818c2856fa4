package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/citypulse/citypulse/internal/logging"
	"github.com/citypulse/citypulse/internal/models"
)

func newMergeFixture(clock *fakeClock) (*MemoryStore, *Normalizer, *MergeEngine) {
	store := NewMemoryStore(clock.Now)
	norm := NewNormalizer(logging.Discard(), nil, clock.Now)
	merger := NewMergeEngine(store, NewMatcher(store, DefaultMatchWindow), clock.Now)
	return store, norm, merger
}

func mustMerge(t *testing.T, norm *Normalizer, merger *MergeEngine, c models.RawCandidate) (Outcome, string) {
	t.Helper()
	event, err := norm.Normalize(testProfile(c.Source), c)
	if err != nil {
		t.Fatalf("Normalize(%q): %v", c.Title, err)
	}
	outcome, id, err := merger.Merge(context.Background(), event)
	if err != nil {
		t.Fatalf("Merge(%q): %v", c.Title, err)
	}
	return outcome, id
}

func TestMerge_JazzNightScenario(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store, norm, merger := newMergeFixture(clock)

	first := candidate("whatson", "Jazz Night", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), "Town Hall")
	outcome, id := mustMerge(t, norm, merger, first)
	if outcome != OutcomeCreated {
		t.Fatalf("first scrape outcome = %v, want new", outcome)
	}

	created, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !created.Status.Equal(models.NewStatusSet(models.StatusNew)) {
		t.Errorf("status after create = %v, want [new]", created.Status)
	}

	clock.Set(clock.Now().Add(12 * time.Hour))
	second := candidate("whatson", "Jazz Night", time.Date(2026, 7, 10, 20, 30, 0, 0, sydney), "Opera House")
	outcome, updatedID := mustMerge(t, norm, merger, second)
	if outcome != OutcomeUpdated {
		t.Fatalf("second scrape outcome = %v, want updated", outcome)
	}
	if updatedID != id {
		t.Errorf("updated record %q, want %q", updatedID, id)
	}

	if store.Len() != 1 {
		t.Fatalf("expected a single record, got %d", store.Len())
	}
	updated, _ := store.GetByID(context.Background(), id)
	if updated.Venue != "Opera House" {
		t.Errorf("venue = %q, want Opera House", updated.Venue)
	}
	if !updated.Status.Equal(models.NewStatusSet(models.StatusNew, models.StatusUpdated)) {
		t.Errorf("status = %v, want [new updated]", updated.Status)
	}
	if !updated.LastScraped.Equal(clock.Now()) {
		t.Errorf("last scraped = %v, want %v", updated.LastScraped, clock.Now())
	}
}

func TestMerge_UnchangedRescrapeIsIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store, norm, merger := newMergeFixture(clock)

	c := candidate("eventbrite", "Harbour Lights", time.Date(2026, 7, 12, 18, 0, 0, 0, sydney), "Circular Quay")
	_, id := mustMerge(t, norm, merger, c)
	before, _ := store.GetByID(context.Background(), id)

	clock.Set(clock.Now().Add(time.Hour))
	outcome, _ := mustMerge(t, norm, merger, c)
	if outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %v, want skipped", outcome)
	}

	after, _ := store.GetByID(context.Background(), id)
	if after.Description != before.Description || after.Venue != before.Venue || !after.Status.Equal(before.Status) {
		t.Errorf("record content changed on identical rescrape: before=%+v after=%+v", before, after)
	}
	if !after.LastScraped.After(before.LastScraped) {
		t.Errorf("last scraped not advanced: %v -> %v", before.LastScraped, after.LastScraped)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record, got %d", store.Len())
	}
}

func TestMerge_SymbolOnlyTitleRescrapeKeepsOneRecord(t *testing.T) {
	at := time.Date(2026, 7, 12, 18, 0, 0, 0, sydney)
	for _, title := range []string{"🎉 🎉", "★★★"} {
		t.Run(title, func(t *testing.T) {
			clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
			store, norm, merger := newMergeFixture(clock)
			mustMerge(t, norm, merger, candidate("whatson", "Jazz Night", at, "Town Hall"))

			c := candidate("whatson", title, at, "Town Hall")
			c.Link = "https://example.com/whatson/party"

			outcome, id := mustMerge(t, norm, merger, c)
			if outcome != OutcomeCreated {
				t.Fatalf("first scrape outcome = %v, want new", outcome)
			}
			for i := 0; i < 2; i++ {
				clock.Set(clock.Now().Add(12 * time.Hour))
				outcome, sameID := mustMerge(t, norm, merger, c)
				if outcome != OutcomeUnchanged || sameID != id {
					t.Fatalf("rescrape %d = %v, %q (want skipped %q)", i, outcome, sameID, id)
				}
			}
			if store.Len() != 2 {
				t.Errorf("expected 2 records, got %d", store.Len())
			}
		})
	}
}

func TestMerge_UpdatedLabelAddedOnce(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store, norm, merger := newMergeFixture(clock)
	at := time.Date(2026, 7, 12, 18, 0, 0, 0, sydney)

	_, id := mustMerge(t, norm, merger, candidate("a", "Open Mic", at, "Venue One"))
	mustMerge(t, norm, merger, candidate("a", "Open Mic", at, "Venue Two"))
	mustMerge(t, norm, merger, candidate("a", "Open Mic", at, "Venue Three"))

	got, _ := store.GetByID(context.Background(), id)
	count := 0
	for _, l := range got.Status {
		if l == models.StatusUpdated {
			count++
		}
	}
	if count != 1 {
		t.Errorf("updated label present %d times: %v", count, got.Status)
	}
}

func TestMerge_OutsideWindowCreatesSecondRecord(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store, norm, merger := newMergeFixture(clock)
	at := time.Date(2026, 7, 10, 19, 0, 0, 0, sydney)

	mustMerge(t, norm, merger, candidate("a", "Jazz Night", at, "Town Hall"))
	outcome, _ := mustMerge(t, norm, merger, candidate("a", "Jazz Night", at.Add(2*time.Hour+time.Minute), "Town Hall"))

	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want new", outcome)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 records, got %d", store.Len())
	}
}

type failingStore struct {
	*MemoryStore
	failInsert bool
}

func (s *failingStore) Insert(ctx context.Context, e models.Event) (string, error) {
	if s.failInsert {
		return "", errors.New("disk full")
	}
	return s.MemoryStore.Insert(ctx, e)
}

func TestMerge_StoreFailureIsPersistenceError(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(nil), failInsert: true}
	merger := NewMergeEngine(store, NewMatcher(store, 0), nil)

	_, _, err := merger.Merge(context.Background(), models.Event{Title: "Jazz Night", DateTime: time.Now()})
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "insert" {
		t.Fatalf("expected insert PersistenceError, got %v", err)
	}
}
