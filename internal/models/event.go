package models

import (
	"time"
)

// Event is the canonical, persisted representation of a real-world event
// reconciled from one or more scraped listings.
type Event struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TitleKey         string     `json:"-"` // normalized title, half of the approximate identity key
	DateTime         time.Time  `json:"date_time"`
	EndDateTime      *time.Time `json:"end_date_time,omitempty"`
	DateEstimated    bool       `json:"date_estimated"` // DateTime was filled with the scrape time
	Venue            string     `json:"venue"`
	Address          string     `json:"address,omitempty"`
	City             string     `json:"city"`
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description,omitempty"`
	Category         string     `json:"category,omitempty"`
	Tags             []string   `json:"tags"`
	ImageURL         string     `json:"image_url,omitempty"`
	SourceSite       string     `json:"source_site"`
	OriginalURL      string     `json:"original_url"`
	Status           StatusSet  `json:"status"`
	Imported         bool       `json:"imported"`
	ImportedAt       *time.Time `json:"imported_at,omitempty"`
	ImportedBy       string     `json:"imported_by,omitempty"`
	ImportNotes      string     `json:"import_notes,omitempty"`
	LastScraped      time.Time  `json:"last_scraped"`
	Price            string     `json:"price,omitempty"`
	IsFree           bool       `json:"is_free"`
	OrganizerName    string     `json:"organizer_name,omitempty"`
	OrganizerURL     string     `json:"organizer_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ShortDescriptionLimit is the maximum length, in runes, of ShortDescription.
const ShortDescriptionLimit = 150

// EventPatch describes a single-record update applied atomically by a store.
// Nil fields are left untouched.
type EventPatch struct {
	Description      *string
	ShortDescription *string
	Venue            *string
	Address          *string
	ImageURL         *string

	// LastScraped is applied as max(stored, LastScraped) so the stored value
	// never moves backwards.
	LastScraped *time.Time

	// AddLabel is added to the status set when non-empty.
	AddLabel StatusLabel
}

// Apply mutates e in place. It is the reference semantics for every store.
func (p EventPatch) Apply(e *Event) {
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.ShortDescription != nil {
		e.ShortDescription = *p.ShortDescription
	}
	if p.Venue != nil {
		e.Venue = *p.Venue
	}
	if p.Address != nil {
		e.Address = *p.Address
	}
	if p.ImageURL != nil {
		e.ImageURL = *p.ImageURL
	}
	if p.LastScraped != nil && p.LastScraped.After(e.LastScraped) {
		e.LastScraped = *p.LastScraped
	}
	if p.AddLabel != "" {
		e.Status = e.Status.Add(p.AddLabel)
	}
}

// LabelPredicate selects records for a bulk label update.
type LabelPredicate struct {
	// DateBefore matches records whose DateTime is strictly earlier.
	DateBefore time.Time
	// WithoutLabel excludes records already carrying this label.
	WithoutLabel StatusLabel
}

// Matches reports whether e satisfies the predicate.
func (p LabelPredicate) Matches(e Event) bool {
	if !p.DateBefore.IsZero() && !e.DateTime.Before(p.DateBefore) {
		return false
	}
	if p.WithoutLabel != "" && e.Status.Has(p.WithoutLabel) {
		return false
	}
	return true
}

// ImportRecord carries the review workflow's import decision.
type ImportRecord struct {
	Actor string
	Notes string
	At    time.Time
}
