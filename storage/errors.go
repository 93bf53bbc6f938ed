package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a record is missing or belongs to another user.
	ErrNotFound = errors.New("not found")
)
