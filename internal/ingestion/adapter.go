package ingestion

import (
	"context"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

// Adapter pulls raw event candidates from one external listing site. A call
// to Scrape is finite and keeps no state between runs.
type Adapter interface {
	// Name returns the unique identifier for this source.
	Name() string

	// Scrape fetches the listing and extracts candidates. On a fetch failure
	// it returns whatever was extracted before the failure together with the
	// error.
	Scrape(ctx context.Context) (ScrapeResult, error)
}

// ScrapeResult holds the candidates produced by one Scrape call.
type ScrapeResult struct {
	Candidates []models.RawCandidate

	// Rejected holds one *ExtractionError per card that could not be read.
	Rejected []error

	FetchedAt time.Time
	Duration  time.Duration
}

// AdapterStatus is the last observed state of one adapter.
type AdapterStatus struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	LastRun      time.Time `json:"last_run"`
	LastError    string    `json:"last_error,omitempty"`
	BreakerState string    `json:"breaker_state"`
	TotalFetched int64     `json:"total_fetched"`
	TotalErrors  int64     `json:"total_errors"`
}
