package engine

import "errors"

// Sentinel errors for enqueue validation. Validation failures are rejected
// synchronously and persist nothing.
var (
	ErrEmptySubject   = errors.New("campaign subject is empty")
	ErrEmptyBody      = errors.New("campaign body is empty")
	ErrNoRecipients   = errors.New("no recipients after dedup")
	ErrUnsubscribed   = errors.New("recipient has unsubscribed")
	ErrMissingOutcome = errors.New("immediate one-time send requires a recorded outcome")
)
