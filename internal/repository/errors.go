package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with an existing attempt.
	ErrDuplicate = errors.New("attempt already exists")
	// ErrStateConflict is returned when a conditional update finds the row no
	// longer in the expected state.
	ErrStateConflict = errors.New("attempt state changed concurrently")
)
