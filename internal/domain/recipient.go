package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Recipient is a candidate for enqueueing, either an already-known internal
// subscriber or an externally-sourced record that still needs a directory
// lookup. The two variants replace the original system's runtime
// shape-sniffing of loosely-typed rows.
type Recipient interface {
	// Key returns the stable identifier component of the dedup key, or ""
	// if the recipient has none.
	Key() string
	// EmailKey returns the case-normalized email component of the dedup
	// key, or "" if the recipient has none.
	EmailKey() string
}

// InternalRecipient references a subscriber already present in the
// directory by its stable ID.
type InternalRecipient struct {
	SubscriberID uuid.UUID
}

func (r InternalRecipient) Key() string      { return r.SubscriberID.String() }
func (r InternalRecipient) EmailKey() string { return "" }

// ExternalRecipient is an ephemeral record handed in by a list provider or
// an ad-hoc caller. SyntheticID carries the provider's own identifier
// (prefixed by the provider) so the same person seen through two lists
// still collapses to one queue row.
type ExternalRecipient struct {
	SyntheticID string
	Email       string
	FirstName   string
	LastName    string
}

func (r ExternalRecipient) Key() string { return r.SyntheticID }

func (r ExternalRecipient) EmailKey() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}
