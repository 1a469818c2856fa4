package models

import (
	"time"
)

// EventQuery represents filters and pagination used by the browsing and
// review collaborators to read the store.
type EventQuery struct {
	City     string     `json:"city,omitempty"`
	Category string     `json:"category,omitempty"` // case-insensitive substring
	Keyword  string     `json:"keyword,omitempty"`  // title, description or venue substring
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`

	// Statuses matches records carrying any of the labels.
	Statuses []StatusLabel `json:"statuses,omitempty"`

	// Public restricts results to future, non-inactive events.
	Public bool `json:"public,omitempty"`

	Page      int       `json:"page"`
	Limit     int       `json:"limit,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// SortOrder specifies ascending or descending DateTime order.
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 100
)

// Validate applies defaults and clamps pagination.
func (q *EventQuery) Validate() error {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = SortOrderDesc
	}
	for _, s := range q.Statuses {
		if !s.IsValid() {
			return &ValidationError{Field: "statuses", Message: "unknown status label " + string(s)}
		}
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return &ValidationError{Field: "until", Message: "must not be before since"}
	}
	return nil
}

// GetOffset calculates the offset for pagination.
func (q *EventQuery) GetOffset() int {
	return (q.Page - 1) * q.Limit
}

// EventPage is one page of query results.
type EventPage struct {
	Events     []Event `json:"events"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

// NewEventPage computes paging metadata for a result slice.
func NewEventPage(events []Event, q EventQuery, total int) *EventPage {
	pages := 0
	if q.Limit > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	if events == nil {
		events = []Event{}
	}
	return &EventPage{
		Events:     events,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: pages,
	}
}

// EventStats is the overview consumed by the review dashboard.
type EventStats struct {
	Total      int          `json:"total"`
	New        int          `json:"new"`
	Updated    int          `json:"updated"`
	Inactive   int          `json:"inactive"`
	Imported   int          `json:"imported"`
	ByCategory []GroupCount `json:"by_category"`
	BySource   []GroupCount `json:"by_source"`
}

// GroupCount is a single bucket of a grouped count.
type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ValidationError reports an invalid query parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
