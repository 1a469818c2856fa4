package models

import "time"

// RawCandidate is one listing as extracted by a source adapter, before
// normalization. It is never persisted directly.
type RawCandidate struct {
	Source      string    `json:"source"` // adapter name
	Title       string    `json:"title"`
	DateText    string    `json:"date_text,omitempty"`
	StartsAt    time.Time `json:"starts_at"` // zero when the adapter could not parse DateText
	Venue       string    `json:"venue,omitempty"`
	Link        string    `json:"link"`
	ImageURL    string    `json:"image_url,omitempty"`
	Description string    `json:"description,omitempty"`
}
