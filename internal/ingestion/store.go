package ingestion

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/citypulse/citypulse/internal/models"
	"github.com/google/uuid"
)

// EventStore is the record store used by the pipeline. Every method is an
// atomic operation on one record or, for BulkAddLabel, one predicate update.
type EventStore interface {
	// Insert stores a new record and returns its ID.
	Insert(ctx context.Context, event models.Event) (string, error)

	// FindApproxMatch returns the stored record whose normalized title
	// contains or is contained by title and whose dateTime lies within
	// window of dateTime. It returns (nil, nil) when nothing matches.
	FindApproxMatch(ctx context.Context, title string, dateTime time.Time, window time.Duration) (*models.Event, error)

	// UpdateFields applies patch to the record with id.
	UpdateFields(ctx context.Context, id string, patch models.EventPatch) error

	// BulkAddLabel adds label to every record matching pred and returns the
	// number of records modified.
	BulkAddLabel(ctx context.Context, pred models.LabelPredicate, label models.StatusLabel) (int64, error)
}

// MemoryStore implements EventStore and the review/query surface in memory.
// It is used by tests and by the harvester when no database is configured
// in development.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]models.Event
	order  []string
	now    func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		events: make(map[string]models.Event),
		now:    now,
	}
}

// Insert saves a copy of event, assigning an ID when empty.
func (s *MemoryStore) Insert(ctx context.Context, event models.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	event.TitleKey = models.NormalizeTitle(event.Title)

	if _, exists := s.events[event.ID]; !exists {
		s.order = append(s.order, event.ID)
	}
	s.events[event.ID] = cloneEvent(event)
	return event.ID, nil
}

// FindApproxMatch scans all records.
func (s *MemoryStore) FindApproxMatch(ctx context.Context, title string, dateTime time.Time, window time.Duration) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	match := SelectMatch(s.snapshotLocked(), title, dateTime, window)
	return match, nil
}

// UpdateFields applies patch under the write lock.
func (s *MemoryStore) UpdateFields(ctx context.Context, id string, patch models.EventPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return models.ErrNotFound
	}
	patch.Apply(&event)
	event.UpdatedAt = s.now()
	s.events[id] = event
	return nil
}

// BulkAddLabel adds label to every matching record.
func (s *MemoryStore) BulkAddLabel(ctx context.Context, pred models.LabelPredicate, label models.StatusLabel) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	now := s.now()
	for _, id := range s.order {
		event := s.events[id]
		if !pred.Matches(event) || event.Status.Has(label) {
			continue
		}
		event.Status = event.Status.Add(label)
		event.UpdatedAt = now
		s.events[id] = event
		modified++
	}
	return modified, nil
}

// MarkImported performs the one-way import transition.
func (s *MemoryStore) MarkImported(ctx context.Context, id string, rec models.ImportRecord) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if event.Imported {
		return nil, models.ErrAlreadyImported
	}

	at := rec.At
	event.Imported = true
	event.ImportedAt = &at
	event.ImportedBy = rec.Actor
	event.ImportNotes = rec.Notes
	event.Status = event.Status.Add(models.StatusImported)
	event.UpdatedAt = s.now()
	s.events[id] = event

	out := cloneEvent(event)
	return &out, nil
}

// GetByID returns a copy of the record or models.ErrNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := cloneEvent(event)
	return &out, nil
}

// Query filters, sorts and pages the records.
func (s *MemoryStore) Query(ctx context.Context, q models.EventQuery) (*models.EventPage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := s.snapshotLocked()
	s.mu.RUnlock()

	now := s.now()
	filtered := make([]models.Event, 0, len(all))
	for _, e := range all {
		if matchesQuery(e, q, now) {
			filtered = append(filtered, e)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if q.SortOrder == models.SortOrderAsc {
			return filtered[i].DateTime.Before(filtered[j].DateTime)
		}
		return filtered[i].DateTime.After(filtered[j].DateTime)
	})

	total := len(filtered)
	start := min(q.GetOffset(), total)
	end := min(start+q.Limit, total)
	return models.NewEventPage(filtered[start:end], q, total), nil
}

// Stats computes label totals and the top categories and sources.
func (s *MemoryStore) Stats(ctx context.Context) (*models.EventStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.EventStats{}
	byCategory := map[string]int{}
	bySource := map[string]int{}
	for _, e := range s.events {
		stats.Total++
		if e.Status.Has(models.StatusNew) {
			stats.New++
		}
		if e.Status.Has(models.StatusUpdated) {
			stats.Updated++
		}
		if e.Status.Has(models.StatusInactive) {
			stats.Inactive++
		}
		if e.Imported {
			stats.Imported++
		}
		byCategory[e.Category]++
		bySource[e.SourceSite]++
	}
	stats.ByCategory = topCounts(byCategory, 10)
	stats.BySource = topCounts(bySource, 10)
	return stats, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All returns copies of every record in insertion order.
func (s *MemoryStore) All() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() []models.Event {
	out := make([]models.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneEvent(s.events[id]))
	}
	return out
}

func matchesQuery(e models.Event, q models.EventQuery, now time.Time) bool {
	if q.City != "" && !strings.EqualFold(e.City, q.City) {
		return false
	}
	if q.Category != "" && !containsFold(e.Category, q.Category) {
		return false
	}
	if q.Keyword != "" && !containsFold(e.Title, q.Keyword) &&
		!containsFold(e.Description, q.Keyword) && !containsFold(e.Venue, q.Keyword) {
		return false
	}
	if q.Since != nil && e.DateTime.Before(*q.Since) {
		return false
	}
	if q.Until != nil && e.DateTime.After(*q.Until) {
		return false
	}
	if len(q.Statuses) > 0 {
		hit := false
		for _, st := range q.Statuses {
			if e.Status.Has(st) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if q.Public && (e.Status.Has(models.StatusInactive) || e.DateTime.Before(now)) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func topCounts(counts map[string]int, limit int) []models.GroupCount {
	out := make([]models.GroupCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, models.GroupCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneEvent(e models.Event) models.Event {
	if e.Tags != nil {
		e.Tags = append([]string(nil), e.Tags...)
	}
	if e.Status != nil {
		e.Status = append(models.StatusSet(nil), e.Status...)
	}
	if e.EndDateTime != nil {
		t := *e.EndDateTime
		e.EndDateTime = &t
	}
	if e.ImportedAt != nil {
		t := *e.ImportedAt
		e.ImportedAt = &t
	}
	return e
}
