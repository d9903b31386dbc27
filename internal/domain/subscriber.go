package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberInactive     SubscriberStatus = "inactive"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
)

// Subscriber represents a single email recipient known to the engine.
// Subscribers are created on first contact (signup form or a campaign send
// to a previously unknown external identity) and are never hard-deleted by
// the queue engine.
type Subscriber struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Email            string           `json:"email" db:"email"`
	FirstName        string           `json:"first_name" db:"first_name"`
	LastName         string           `json:"last_name" db:"last_name"`
	Status           SubscriberStatus `json:"status" db:"status"`
	Source           string           `json:"source" db:"source"`
	UnsubscribeToken string           `json:"-" db:"unsubscribe_token"`

	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Deliverable reports whether the subscriber may receive campaign email.
func (s *Subscriber) Deliverable() bool {
	return s.Status == SubscriberActive
}

// ListKind distinguishes internally stored lists from callback-backed
// external lists.
type ListKind string

const (
	ListInternal ListKind = "internal"
	ListExternal ListKind = "external"
)

// List is a named grouping of subscribers. External lists are non-editable;
// their recipients are resolved live through a ListProvider callback and
// tagged with a synthetic externally-sourced identifier.
type List struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Kind            ListKind  `json:"kind" db:"kind"`
	ProviderRef     string    `json:"provider_ref,omitempty" db:"provider_ref"`
	SubscriberCount int       `json:"subscriber_count" db:"subscriber_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
