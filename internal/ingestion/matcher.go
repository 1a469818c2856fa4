package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

// DefaultMatchWindow is the tolerance applied to dateTime when matching.
const DefaultMatchWindow = 2 * time.Hour

// TitleKeysMatch reports whether either normalized key contains the other.
// Empty keys never match.
func TitleKeysMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// WithinWindow reports whether stored lies in [d-window, d+window].
func WithinWindow(stored, d time.Time, window time.Duration) bool {
	return !stored.Before(d.Add(-window)) && !stored.After(d.Add(window))
}

// MatchesCandidate applies the full approximate-identity rule to one stored
// record.
func MatchesCandidate(stored models.Event, titleKey string, d time.Time, window time.Duration) bool {
	key := stored.TitleKey
	if key == "" {
		key = models.NormalizeTitle(stored.Title)
	}
	return TitleKeysMatch(key, titleKey) && WithinWindow(stored.DateTime, d, window)
}

// betterMatch orders two qualifying records: closest dateTime first, then the
// earliest created.
func betterMatch(a, b models.Event, d time.Time) bool {
	da, db := absDuration(a.DateTime.Sub(d)), absDuration(b.DateTime.Sub(d))
	if da != db {
		return da < db
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// SelectMatch returns the best qualifying record from records, or nil.
func SelectMatch(records []models.Event, title string, d time.Time, window time.Duration) *models.Event {
	key := models.NormalizeTitle(title)
	var best *models.Event
	for i := range records {
		if !MatchesCandidate(records[i], key, d, window) {
			continue
		}
		if best == nil || betterMatch(records[i], *best, d) {
			best = &records[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Matcher looks up the stored record a candidate refers to.
type Matcher struct {
	store  EventStore
	window time.Duration
}

// NewMatcher creates a matcher. A non-positive window uses DefaultMatchWindow.
func NewMatcher(store EventStore, window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Matcher{store: store, window: window}
}

// Find returns the matching record or nil when there is none.
func (m *Matcher) Find(ctx context.Context, event models.Event) (*models.Event, error) {
	return m.store.FindApproxMatch(ctx, event.Title, event.DateTime, m.window)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
