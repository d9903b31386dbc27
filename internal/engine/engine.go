package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/domain"
	"github.com/brightpost/newsletter/internal/pkg/logger"
)

// DefaultChunkSize bounds memory and transaction size when enqueueing
// large recipient sets. Chunk boundaries are purely a batching concern and
// never affect dedup or ordering.
const DefaultChunkSize = 500

// Engine creates campaigns and their queue rows.
type Engine struct {
	store     Store
	directory Directory
	chunkSize int
}

// New creates an enqueue engine. chunkSize <= 0 selects the default.
func New(store Store, directory Directory, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{store: store, directory: directory, chunkSize: chunkSize}
}

// CampaignInput describes one bulk send request.
type CampaignInput struct {
	Subject     string
	Body        string
	FromName    string
	FromEmail   string
	BCC         string
	ListIDs     []string
	Recipients  []domain.Recipient
	ScheduledAt time.Time
}

// EnqueueResult reports what a successful QueueCampaign produced.
// Queued may be less than TotalRecipients when recipients were dropped for
// being unresolvable or unsubscribed.
type EnqueueResult struct {
	CampaignID      uuid.UUID
	TotalRecipients int
	Queued          int
}

// QueueCampaign validates, dedupes, and enqueues a campaign.
//
// Dedup uses a composite key: a candidate is dropped when its
// case-insensitive email OR its stable identifier was already seen in an
// earlier entry, even if only one of the two matches. First-seen wins. The
// guard exists because the same person routinely arrives via two lists
// with slightly different record shape.
func (e *Engine) QueueCampaign(ctx context.Context, in CampaignInput) (*EnqueueResult, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, ErrEmptySubject
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, ErrEmptyBody
	}

	deduped := dedupRecipients(in.Recipients)
	if len(deduped) == 0 {
		return nil, ErrNoRecipients
	}

	now := time.Now()
	scheduledAt := in.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	campaign := &domain.Campaign{
		ID:              uuid.New(),
		Subject:         in.Subject,
		Body:            in.Body,
		FromName:        in.FromName,
		FromEmail:       in.FromEmail,
		BCC:             in.BCC,
		ListIDs:         in.ListIDs,
		Type:            domain.CampaignTypeCampaign,
		Status:          domain.CampaignPending,
		TotalRecipients: len(deduped),
		ScheduledAt:     scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	// queuedSubscribers guards against an internal and an external entry
	// resolving to the same subscriber across chunks.
	queuedSubscribers := make(map[uuid.UUID]bool, len(deduped))
	queued := 0

	for start := 0; start < len(deduped); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		n, err := e.enqueueChunk(ctx, campaign, deduped[start:end], queuedSubscribers)
		if err != nil {
			return nil, fmt.Errorf("enqueue chunk at %d: %w", start, err)
		}
		queued += n
	}

	if err := e.store.SetQueuedCount(ctx, campaign.ID, queued); err != nil {
		logger.Warn("record queued count failed", "campaign_id", campaign.ID, "err", err)
	}

	logger.Info("campaign queued",
		"campaign_id", campaign.ID, "requested", len(deduped), "queued", queued)

	return &EnqueueResult{
		CampaignID:      campaign.ID,
		TotalRecipients: len(deduped),
		Queued:          queued,
	}, nil
}

// enqueueChunk resolves one chunk of recipients and bulk-inserts their
// queue rows. Within the chunk, already-known identities and
// externally-sourced records each get a single batch directory call to
// avoid per-recipient lookups.
func (e *Engine) enqueueChunk(ctx context.Context, campaign *domain.Campaign, chunk []domain.Recipient, queuedSubscribers map[uuid.UUID]bool) (int, error) {
	var internalIDs []uuid.UUID
	var externals []domain.ExternalRecipient
	for _, rec := range chunk {
		switch r := rec.(type) {
		case domain.InternalRecipient:
			internalIDs = append(internalIDs, r.SubscriberID)
		case domain.ExternalRecipient:
			externals = append(externals, r)
		}
	}

	byID := map[uuid.UUID]*domain.Subscriber{}
	if len(internalIDs) > 0 {
		resolved, err := e.directory.BatchGetByIDs(ctx, internalIDs)
		if err != nil {
			logger.Warn("internal recipient resolution failed, dropping chunk group",
				"campaign_id", campaign.ID, "count", len(internalIDs), "err", err)
		} else {
			byID = resolved
		}
	}

	byEmail := map[string]*domain.Subscriber{}
	if len(externals) > 0 {
		resolved, err := e.directory.BatchGetOrCreate(ctx, externals, "campaign")
		if err != nil {
			logger.Warn("external recipient resolution failed, dropping chunk group",
				"campaign_id", campaign.ID, "count", len(externals), "err", err)
		} else {
			byEmail = resolved
		}
	}

	now := time.Now()
	var items []*domain.QueueItem
	for _, rec := range chunk {
		var sub *domain.Subscriber
		switch r := rec.(type) {
		case domain.InternalRecipient:
			sub = byID[r.SubscriberID]
		case domain.ExternalRecipient:
			sub = byEmail[r.EmailKey()]
		}
		// Unresolvable or unsubscribed recipients are dropped without
		// surfacing an error; the rest of the chunk proceeds.
		if sub == nil {
			continue
		}
		if sub.Status == domain.SubscriberUnsubscribed {
			logger.Debug("skipping unsubscribed recipient",
				"campaign_id", campaign.ID, "email", sub.Email)
			continue
		}
		if queuedSubscribers[sub.ID] {
			continue
		}
		queuedSubscribers[sub.ID] = true

		items = append(items, &domain.QueueItem{
			ID:           uuid.New(),
			CampaignID:   campaign.ID,
			SubscriberID: sub.ID,
			Subject:      campaign.Subject,
			Body:         campaign.Body,
			Status:       domain.QueuePending,
			ScheduledAt:  campaign.ScheduledAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(items) == 0 {
		return 0, nil
	}
	return e.store.InsertQueueItems(ctx, items)
}

// dedupRecipients collapses duplicates by composite key. An entry is kept
// only when neither its stable ID nor its normalized email has been seen.
func dedupRecipients(recipients []domain.Recipient) []domain.Recipient {
	seenIDs := make(map[string]bool, len(recipients))
	seenEmails := make(map[string]bool, len(recipients))
	out := make([]domain.Recipient, 0, len(recipients))

	for _, rec := range recipients {
		id := rec.Key()
		email := rec.EmailKey()
		if id == "" && email == "" {
			continue
		}
		if (id != "" && seenIDs[id]) || (email != "" && seenEmails[email]) {
			continue
		}
		if id != "" {
			seenIDs[id] = true
		}
		if email != "" {
			seenEmails[email] = true
		}
		out = append(out, rec)
	}
	return out
}

// ResolveExternalList asks a list provider for its live recipients and
// tags each with a synthetic externally-sourced identifier. Provider IDs
// are namespaced under the list reference so the same raw ID from two
// providers never collides in the dedup key.
func ResolveExternalList(ctx context.Context, p ListProvider, listRef string) ([]domain.Recipient, error) {
	recs, err := p.ResolveRecipients(ctx, listRef)
	if err != nil {
		return nil, fmt.Errorf("resolve external list %s: %w", listRef, err)
	}
	out := make([]domain.Recipient, 0, len(recs))
	for _, r := range recs {
		if r.SyntheticID == "" {
			r.SyntheticID = fmt.Sprintf("ext:%s:%s", listRef, r.EmailKey())
		} else {
			r.SyntheticID = fmt.Sprintf("ext:%s:%s", listRef, r.SyntheticID)
		}
		out = append(out, r)
	}
	return out, nil
}
