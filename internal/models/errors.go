package models

import "errors"

var (
	// ErrNotFound is returned by stores when no record has the requested ID.
	ErrNotFound = errors.New("event not found")

	// ErrAlreadyImported is returned when the import transition has already
	// happened for a record.
	ErrAlreadyImported = errors.New("event already imported")
)
