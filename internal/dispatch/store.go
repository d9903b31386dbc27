package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/domain"
)

// DueItem is a queue item joined with the live subscriber and campaign
// fields the dispatcher needs. Subscriber fields are read at selection
// time, not enqueue time, so placeholder expansion reflects the current
// directory row.
type DueItem struct {
	Item domain.QueueItem

	Email            string
	FirstName        string
	LastName         string
	UnsubscribeToken string

	FromName  string
	FromEmail string
	BCC       string
}

// Store is the persistence contract for the dispatcher. Every mutation is
// a status-guarded conditional update; a false ok return means the row was
// not in the expected state (claimed by a concurrent tick or cancelled)
// and the caller must discard its outcome.
type Store interface {
	// RecoverStuck requeues processing items older than staleAge that are
	// under the attempt cap and terminally fails the rest. Returns the
	// counts (requeued, failed).
	RecoverStuck(ctx context.Context, staleAge time.Duration, maxAttempts int) (int64, int64, error)

	// DueItems returns up to limit pending items whose scheduled_at has
	// arrived and whose subscriber is active, oldest due first.
	DueItems(ctx context.Context, limit int) ([]DueItem, error)

	// MarkProcessing atomically transitions pending→processing and
	// increments attempts, returning the post-increment attempt count.
	MarkProcessing(ctx context.Context, id uuid.UUID) (int, bool, error)

	// MarkSent finalizes a delivered item. Guarded on
	// status='processing' AND attempts=attempts.
	MarkSent(ctx context.Context, id uuid.UUID, attempts int, messageID string) (bool, error)

	// Reschedule returns a failed item to pending with a new due time.
	// Guarded like MarkSent.
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAt time.Time, errMsg string) (bool, error)

	// MarkFailed terminally fails an item. Guarded like MarkSent.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, errMsg string) (bool, error)
}
