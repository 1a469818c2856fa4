package models

import "time"

// SourceResult holds the merge counts produced by one adapter during a run.
type SourceResult struct {
	Source       string        `json:"source"`
	Fetched      int           `json:"fetched"`
	NewCount     int           `json:"new_count"`
	UpdatedCount int           `json:"updated_count"`
	SkippedCount int           `json:"skipped_count"`
	FailedCount  int           `json:"failed_count"`  // rejected cards plus failed writes
	Err          string        `json:"error,omitempty"` // adapter-level failure, if any
	Duration     time.Duration `json:"duration"`
}

// Processed returns the number of candidates that reached the store.
func (r SourceResult) Processed() int {
	return r.NewCount + r.UpdatedCount + r.SkippedCount
}

// RunSummary is the folded outcome of one full pipeline run.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	TotalNew     int            `json:"total_new"`
	TotalUpdated int            `json:"total_updated"`
	TotalSkipped int            `json:"total_skipped"`
	TotalFailed  int            `json:"total_failed"`
	PerSource    []SourceResult `json:"per_source"`
	Inactivated  int64          `json:"inactivated"`
	Stopped      bool           `json:"stopped"`
	DurationMs   int64          `json:"duration_ms"`
}

// Source returns the breakdown for the named source.
func (s RunSummary) Source(name string) (SourceResult, bool) {
	for _, r := range s.PerSource {
		if r.Source == name {
			return r, true
		}
	}
	return SourceResult{}, false
}
