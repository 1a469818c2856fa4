package ingestion

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned when the record store cannot be reached at
// startup. It is the only store failure that aborts the process.
var ErrStoreUnavailable = errors.New("record store unavailable")

// ErrBreakerOpen marks a source skipped because its circuit breaker is open.
var ErrBreakerOpen = errors.New("source circuit breaker open")

// TransientFetchError reports a network, timeout or rendering failure at the
// adapter boundary. The source contributes nothing further to the run.
type TransientFetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a single card or candidate that could not be turned
// into a record. Remaining candidates are unaffected.
type ExtractionError struct {
	Source string
	Link   string
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("extract %s (%s): %s", e.Source, e.Link, e.Reason)
	}
	return fmt.Sprintf("extract %s: %s", e.Source, e.Reason)
}

// PersistenceError reports a failed match or write for one candidate.
type PersistenceError struct {
	Op    string // "match", "insert" or "update"
	Title string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Title, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
