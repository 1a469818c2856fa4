package ingestion

import (
	"context"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

// Outcome classifies what a merge did with one candidate.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

// String returns the counter label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "new"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "skipped"
	default:
		return "unknown"
	}
}

// MergeEngine reconciles one normalized candidate against the store.
type MergeEngine struct {
	store   EventStore
	matcher *Matcher
	now     func() time.Time
}

// NewMergeEngine creates a merge engine. now may be nil.
func NewMergeEngine(store EventStore, matcher *Matcher, now func() time.Time) *MergeEngine {
	if now == nil {
		now = time.Now
	}
	return &MergeEngine{store: store, matcher: matcher, now: now}
}

// Merge inserts, updates or touches the record for event and returns the
// outcome with the affected record ID. Failures are *PersistenceError.
func (m *MergeEngine) Merge(ctx context.Context, event models.Event) (Outcome, string, error) {
	existing, err := m.matcher.Find(ctx, event)
	if err != nil {
		return 0, "", &PersistenceError{Op: "match", Title: event.Title, Err: err}
	}

	now := m.now()

	if existing == nil {
		event.Status = models.NewStatusSet(models.StatusNew)
		event.LastScraped = now
		event.TitleKey = models.NormalizeTitle(event.Title)
		id, err := m.store.Insert(ctx, event)
		if err != nil {
			return 0, "", &PersistenceError{Op: "insert", Title: event.Title, Err: err}
		}
		return OutcomeCreated, id, nil
	}

	patch := models.EventPatch{LastScraped: &now}
	outcome := OutcomeUnchanged
	if contentChanged(*existing, event) {
		patch.Description = &event.Description
		patch.ShortDescription = &event.ShortDescription
		patch.Venue = &event.Venue
		patch.Address = &event.Address
		patch.ImageURL = &event.ImageURL
		patch.AddLabel = models.StatusUpdated
		outcome = OutcomeUpdated
	}

	if err := m.store.UpdateFields(ctx, existing.ID, patch); err != nil {
		return 0, existing.ID, &PersistenceError{Op: "update", Title: event.Title, Err: err}
	}
	return outcome, existing.ID, nil
}

// contentChanged compares the fields whose change counts as an update.
func contentChanged(stored, incoming models.Event) bool {
	return stored.Description != incoming.Description || stored.Venue != incoming.Venue
}
