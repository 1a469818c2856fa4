package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// StatusLabel is one lifecycle marker attached to an event.
type StatusLabel string

const (
	StatusNew      StatusLabel = "new"      // first seen by the pipeline
	StatusUpdated  StatusLabel = "updated"  // content changed on a later scrape
	StatusInactive StatusLabel = "inactive" // event date is past the staleness cutoff
	StatusImported StatusLabel = "imported" // accepted by the review workflow
)

// IsValid returns true if the label is one of the known lifecycle labels.
func (l StatusLabel) IsValid() bool {
	switch l {
	case StatusNew, StatusUpdated, StatusInactive, StatusImported:
		return true
	default:
		return false
	}
}

// StatusSet is an unordered set of labels. The zero value is an empty set.
// Methods never mutate the receiver's backing array in a way that is visible
// to other holders; Add returns a new slice when it grows.
type StatusSet []StatusLabel

// NewStatusSet builds a set, dropping duplicates.
func NewStatusSet(labels ...StatusLabel) StatusSet {
	var s StatusSet
	for _, l := range labels {
		s = s.Add(l)
	}
	return s
}

// Has reports whether label is in the set.
func (s StatusSet) Has(label StatusLabel) bool {
	for _, l := range s {
		if l == label {
			return true
		}
	}
	return false
}

// Add returns the set with label included. Adding a present label is a no-op.
func (s StatusSet) Add(label StatusLabel) StatusSet {
	if s.Has(label) {
		return s
	}
	out := make(StatusSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, label)
}

// Equal compares two sets ignoring order.
func (s StatusSet) Equal(other StatusSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, l := range s {
		if !other.Has(l) {
			return false
		}
	}
	return true
}

// Sorted returns a copy ordered alphabetically, used for stable output.
func (s StatusSet) Sorted() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = string(l)
	}
	sort.Strings(out)
	return out
}

// Value implements driver.Valuer, storing the set as a Postgres text[].
func (s StatusSet) Value() (driver.Value, error) {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = string(l)
	}
	return pq.StringArray(out).Value()
}

// Scan implements sql.Scanner for Postgres text[] columns.
func (s *StatusSet) Scan(src any) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("scan status set: %w", err)
	}
	set := make(StatusSet, 0, len(raw))
	for _, v := range raw {
		set = set.Add(StatusLabel(v))
	}
	*s = set
	return nil
}

// MarshalJSON writes the labels in alphabetical order.
func (s StatusSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts a JSON array and drops duplicates.
func (s *StatusSet) UnmarshalJSON(data []byte) error {
	var labels []StatusLabel
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	*s = NewStatusSet(labels...)
	return nil
}
