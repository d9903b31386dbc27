package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType distinguishes bulk campaigns from single-recipient sends.
type CampaignType string

const (
	CampaignTypeCampaign CampaignType = "campaign"
	CampaignTypeOneTime  CampaignType = "one_time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "pending"
	CampaignProcessing CampaignStatus = "processing"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignCancelled  CampaignStatus = "cancelled"
)

// Campaign represents one send operation grouping many queue items.
//
// TotalRecipients is fixed at creation (the post-dedup requested count) and
// never tracks live queue-row counts; QueuedCount records how many rows were
// actually inserted after unsubscribed/unresolvable recipients were dropped.
type Campaign struct {
	ID      uuid.UUID      `json:"id" db:"id"`
	Subject string         `json:"subject" db:"subject"`
	Body    string         `json:"body" db:"body"`
	ListIDs []string       `json:"list_ids" db:"list_ids"`
	Type    CampaignType   `json:"type" db:"type"`
	Status  CampaignStatus `json:"status" db:"status"`

	FromName  string `json:"from_name" db:"from_name"`
	FromEmail string `json:"from_email" db:"from_email"`
	BCC       string `json:"bcc,omitempty" db:"bcc"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	QueuedCount     int `json:"queued_count" db:"queued_count"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}

// QueueItemStatus enumerates the lifecycle of a single queued email.
type QueueItemStatus string

const (
	QueuePending    QueueItemStatus = "pending"
	QueueProcessing QueueItemStatus = "processing"
	QueueSent       QueueItemStatus = "sent"
	QueueFailed     QueueItemStatus = "failed"
	QueueCancelled  QueueItemStatus = "cancelled"
)

// QueueItem is one (campaign, recipient) pair. Subject and body are
// denormalized copies taken at enqueue time, so a later campaign edit does
// not affect already-queued items. Attempts increments exactly once per
// dispatch attempt, before the send is tried.
type QueueItem struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	CampaignID   uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	SubscriberID uuid.UUID       `json:"subscriber_id" db:"subscriber_id"`
	Subject      string          `json:"subject" db:"subject"`
	Body         string          `json:"body" db:"body"`
	Status       QueueItemStatus `json:"status" db:"status"`
	Attempts     int             `json:"attempts" db:"attempts"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	MessageID    string          `json:"message_id,omitempty" db:"message_id"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the queue item can no longer change state.
func (q *QueueItem) IsTerminal() bool {
	return q.Status == QueueSent || q.Status == QueueFailed || q.Status == QueueCancelled
}
