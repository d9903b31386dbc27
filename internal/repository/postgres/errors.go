package postgres

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a cancellation or completion
	// targets a row already in a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
