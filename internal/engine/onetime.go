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

// OneTimeInput describes a single-recipient send.
type OneTimeInput struct {
	Email     string
	FirstName string
	LastName  string
	Subject   string
	Body      string
	FromName  string
	FromEmail string

	ScheduledAt time.Time

	// Immediate records a synchronous send already performed by the
	// caller; the engine only persists the outcome. When false the row is
	// queued for the dispatcher like any campaign item.
	Immediate bool
	Outcome   *Outcome
}

// Outcome is the result of a caller-performed synchronous send.
type Outcome struct {
	Sent        bool
	ErrorDetail string
}

// QueueOneTime resolves (or creates) exactly one subscriber and persists a
// one_time campaign with a single queue row. The get-or-create step is
// deliberate: it gives even ad-hoc recipients a stable unsubscribe token.
//
// Fails without persisting anything when the resolved subscriber has
// unsubscribed.
func (e *Engine) QueueOneTime(ctx context.Context, in OneTimeInput) (uuid.UUID, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return uuid.Nil, ErrEmptySubject
	}
	if strings.TrimSpace(in.Body) == "" {
		return uuid.Nil, ErrEmptyBody
	}
	if in.Immediate && in.Outcome == nil {
		return uuid.Nil, ErrMissingOutcome
	}

	sub, err := e.directory.GetOrCreate(ctx, in.Email, in.FirstName, in.LastName, "one_time")
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if sub.Status == domain.SubscriberUnsubscribed {
		return uuid.Nil, ErrUnsubscribed
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
		Type:            domain.CampaignTypeOneTime,
		Status:          domain.CampaignPending,
		TotalRecipients: 1,
		ScheduledAt:     scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	item := &domain.QueueItem{
		ID:           uuid.New(),
		CampaignID:   campaign.ID,
		SubscriberID: sub.ID,
		Subject:      in.Subject,
		Body:         in.Body,
		Status:       domain.QueuePending,
		ScheduledAt:  scheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if in.Immediate {
		campaign.Status = domain.CampaignCompleted
		campaign.CompletedAt = &now
		item.Attempts = 1
		if in.Outcome.Sent {
			item.Status = domain.QueueSent
			sentAt := now
			item.SentAt = &sentAt
		} else {
			item.Status = domain.QueueFailed
			item.ErrorMessage = in.Outcome.ErrorDetail
		}
	}

	if err := e.store.CreateCampaign(ctx, campaign); err != nil {
		return uuid.Nil, fmt.Errorf("create one-time campaign: %w", err)
	}
	if _, err := e.store.InsertQueueItems(ctx, []*domain.QueueItem{item}); err != nil {
		return uuid.Nil, fmt.Errorf("insert one-time queue item: %w", err)
	}
	if err := e.store.SetQueuedCount(ctx, campaign.ID, 1); err != nil {
		logger.Warn("record queued count failed", "campaign_id", campaign.ID, "err", err)
	}

	logger.Info("one-time send queued",
		"queue_item_id", item.ID, "email", sub.Email, "immediate", in.Immediate)
	return item.ID, nil
}
