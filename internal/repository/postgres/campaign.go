package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightpost/newsletter/internal/domain"
)

// Store implements the engine and dispatch persistence contracts against
// PostgreSQL.
type Store struct{ db *sql.DB }

// New creates a Postgres-backed store.
func New(db *sql.DB) *Store { return &Store{db: db} }

const campaignColumns = `id, subject, body, list_ids, type, status, from_name, from_email,
	       COALESCE(bcc,''), total_recipients, queued_count, scheduled_at, completed_at,
	       created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Subject, &c.Body, pq.Array(&c.ListIDs), &c.Type, &c.Status,
		&c.FromName, &c.FromEmail, &c.BCC, &c.TotalRecipients, &c.QueuedCount,
		&c.ScheduledAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, subject, body, list_ids, type, status,
		                       from_name, from_email, bcc, total_recipients, queued_count,
		                       scheduled_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10, $11, $12, $13, $14, $14)
	`, c.ID, c.Subject, c.Body, pq.Array(c.ListIDs), c.Type, c.Status,
		c.FromName, c.FromEmail, c.BCC, c.TotalRecipients, c.QueuedCount,
		c.ScheduledAt, c.CompletedAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (s *Store) SetQueuedCount(ctx context.Context, campaignID uuid.UUID, queued int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET queued_count = $2, updated_at = NOW() WHERE id = $1
	`, campaignID, queued)
	if err != nil {
		return fmt.Errorf("set queued count: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// CampaignFilter narrows ListCampaigns.
type CampaignFilter struct {
	Status string
	Limit  int
	Offset int
}

func (s *Store) ListCampaigns(ctx context.Context, f CampaignFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns`
	countArgs := []interface{}{}
	if f.Status != "" {
		countQ += ` WHERE status = $1`
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// CampaignQueueCounts returns the per-status queue item counts for a campaign.
func (s *Store) CampaignQueueCounts(ctx context.Context, campaignID uuid.UUID) (map[domain.QueueItemStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_items WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.QueueItemStatus]int)
	for rows.Next() {
		var st domain.QueueItemStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// CancelCampaign cancels a campaign and all of its pending and processing
// queue items, returning the number of items cancelled. Terminal campaigns
// cannot be cancelled.
func (s *Store) CancelCampaign(ctx context.Context, id uuid.UUID) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback()

	var status domain.CampaignStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM campaigns WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock campaign: %w", err)
	}
	if status != domain.CampaignPending && status != domain.CampaignProcessing {
		return 0, ErrInvalidTransition
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'cancelled', updated_at = NOW()
		WHERE campaign_id = $1 AND status IN ('pending', 'processing')
	`, id)
	if err != nil {
		return 0, fmt.Errorf("cancel queue items: %w", err)
	}
	cancelled, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return 0, fmt.Errorf("cancel campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel: %w", err)
	}
	return cancelled, nil
}

// MarkCampaignCompleted moves a processing campaign to completed once its
// queue has drained.
func (s *Store) MarkCampaignCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, at)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}
