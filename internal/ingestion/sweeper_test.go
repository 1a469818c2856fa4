package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

func TestSweeper_MarksStaleRecordsOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })

	seed := []models.Event{
		{Title: "Old Gig", DateTime: now.Add(-8 * 24 * time.Hour), Status: models.NewStatusSet(models.StatusNew, models.StatusImported)},
		{Title: "Older Gig", DateTime: now.Add(-30 * 24 * time.Hour), Status: models.NewStatusSet(models.StatusNew)},
		{Title: "Recent Gig", DateTime: now.Add(-6 * 24 * time.Hour), Status: models.NewStatusSet(models.StatusNew)},
		{Title: "Future Gig", DateTime: now.Add(3 * 24 * time.Hour), Status: models.NewStatusSet(models.StatusNew)},
		{Title: "Gone Gig", DateTime: now.Add(-40 * 24 * time.Hour), Status: models.NewStatusSet(models.StatusNew, models.StatusInactive)},
	}
	ids := make(map[string]string, len(seed))
	for _, e := range seed {
		id, err := store.Insert(ctx, e)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids[e.Title] = id
	}

	sweeper := NewSweeper(store, 7*24*time.Hour, func() time.Time { return now })

	n, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("first sweep modified %d, want 2", n)
	}

	n, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep modified %d, want 0", n)
	}

	old, _ := store.GetByID(ctx, ids["Old Gig"])
	if !old.Status.Equal(models.NewStatusSet(models.StatusNew, models.StatusImported, models.StatusInactive)) {
		t.Errorf("sweeper must keep other labels, got %v", old.Status)
	}
	recent, _ := store.GetByID(ctx, ids["Recent Gig"])
	if recent.Status.Has(models.StatusInactive) {
		t.Error("recent event should stay active")
	}
}
