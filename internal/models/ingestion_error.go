package models

import (
	"time"
)

// IngestionError is a persisted record of a failure recovered during a run.
type IngestionError struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`     // adapter name
	ErrorType  string     `json:"error_type"` // see IngestionErrorType
	URL        string     `json:"url"`        // listing page or event link involved
	ErrorMsg   string     `json:"error_msg"`
	Metadata   string     `json:"metadata"` // additional JSON metadata
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IngestionErrorType categorizes recovered failures.
type IngestionErrorType string

const (
	ErrorTypeFetchFailed       IngestionErrorType = "fetch_failed"
	ErrorTypeExtractionFailed  IngestionErrorType = "extraction_failed"
	ErrorTypePersistenceFailed IngestionErrorType = "persistence_failed"
	ErrorTypeSweepFailed       IngestionErrorType = "sweep_failed"
)
