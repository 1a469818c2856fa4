package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

// DefaultInactiveAfter is the age past which an event is labelled inactive.
const DefaultInactiveAfter = 7 * 24 * time.Hour

// Sweeper labels stale records inactive.
type Sweeper struct {
	store EventStore
	age   time.Duration
	now   func() time.Time
}

// NewSweeper creates a sweeper. A non-positive age uses DefaultInactiveAfter.
func NewSweeper(store EventStore, age time.Duration, now func() time.Time) *Sweeper {
	if age <= 0 {
		age = DefaultInactiveAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: store, age: age, now: now}
}

// Sweep adds the inactive label to every record dated before now minus the
// configured age that does not carry it yet. Other labels are kept.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	pred := models.LabelPredicate{
		DateBefore:   s.now().Add(-s.age),
		WithoutLabel: models.StatusInactive,
	}
	n, err := s.store.BulkAddLabel(ctx, pred, models.StatusInactive)
	if err != nil {
		return 0, fmt.Errorf("sweep inactive events: %w", err)
	}
	return n, nil
}
