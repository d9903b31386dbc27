package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/domain"
)

// Store is the persistence contract the enqueue engine needs. The postgres
// implementation lives in repository/postgres.
type Store interface {
	// CreateCampaign inserts a campaign row exactly as populated by the
	// caller, including status and completion timestamp.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error

	// InsertQueueItems bulk-inserts queue rows in one statement per call
	// and returns the number inserted.
	InsertQueueItems(ctx context.Context, items []*domain.QueueItem) (int, error)

	// SetQueuedCount records how many rows were actually queued for a
	// campaign. TotalRecipients stays fixed at its creation value.
	SetQueuedCount(ctx context.Context, campaignID uuid.UUID, queued int) error
}

// Directory resolves recipient identities. Implemented by directory.Directory.
type Directory interface {
	GetOrCreate(ctx context.Context, email, firstName, lastName, source string) (*domain.Subscriber, error)
	BatchGetOrCreate(ctx context.Context, recs []domain.ExternalRecipient, source string) (map[string]*domain.Subscriber, error)
	BatchGetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Subscriber, error)
}

// ListProvider resolves recipients for an external, callback-backed list.
type ListProvider interface {
	ResolveRecipients(ctx context.Context, listRef string) ([]domain.ExternalRecipient, error)
}
