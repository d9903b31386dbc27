package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightpost/newsletter/internal/dispatch"
	"github.com/brightpost/newsletter/internal/domain"
	"github.com/brightpost/newsletter/internal/pkg/logger"
)

// InsertQueueItems bulk-inserts queue rows with COPY. One statement per
// call regardless of batch size.
func (s *Store) InsertQueueItems(ctx context.Context, items []*domain.QueueItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("queue_items",
		"id", "campaign_id", "subscriber_id", "subject", "body",
		"status", "attempts", "error_message", "message_id",
		"scheduled_at", "sent_at", "created_at", "updated_at"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	for _, it := range items {
		_, err = stmt.ExecContext(ctx,
			it.ID, it.CampaignID, it.SubscriberID, it.Subject, it.Body,
			it.Status, it.Attempts, it.ErrorMessage, it.MessageID,
			it.ScheduledAt, it.SentAt, it.CreatedAt, it.UpdatedAt)
		if err != nil {
			stmt.Close()
			return 0, fmt.Errorf("copy queue item: %w", err)
		}
	}

	// Flush the COPY buffer.
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return len(items), nil
}

// RecoverStuck requeues processing items whose last update is older than
// staleAge and that still have attempts left; the rest are terminally
// failed. staleAge is applied at whole-minute resolution.
func (s *Store) RecoverStuck(ctx context.Context, staleAge time.Duration, maxAttempts int) (int64, int64, error) {
	mins := int(staleAge.Minutes())

	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending',
		    scheduled_at = NOW(),
		    error_message = 'requeued after stall on attempt ' || attempts,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND updated_at < NOW() - ($1 * INTERVAL '1 minute')
		  AND attempts < $2
	`, mins, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stuck: %w", err)
	}
	requeued, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'failed',
		    error_message = 'stalled in processing after ' || attempts || ' attempts',
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND updated_at < NOW() - ($1 * INTERVAL '1 minute')
		  AND attempts >= $2
	`, mins, maxAttempts)
	if err != nil {
		return requeued, 0, fmt.Errorf("fail stuck: %w", err)
	}
	failed, _ := res.RowsAffected()

	return requeued, failed, nil
}

// DueItems returns up to limit pending items whose send time has arrived,
// joined with the current subscriber row and the campaign sender fields.
// Inactive and unsubscribed recipients never come back.
func (s *Store) DueItems(ctx context.Context, limit int) ([]dispatch.DueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.campaign_id, q.subscriber_id, q.subject, q.body,
		       q.status, q.attempts, COALESCE(q.error_message,''), COALESCE(q.message_id,''),
		       q.scheduled_at, q.sent_at, q.created_at, q.updated_at,
		       s.email, s.first_name, s.last_name, s.unsubscribe_token,
		       c.from_name, c.from_email, COALESCE(c.bcc,'')
		FROM queue_items q
		JOIN subscribers s ON s.id = q.subscriber_id
		JOIN campaigns c ON c.id = q.campaign_id
		WHERE q.status = 'pending'
		  AND q.scheduled_at <= NOW()
		  AND s.status = 'active'
		ORDER BY q.scheduled_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select due items: %w", err)
	}
	defer rows.Close()

	var out []dispatch.DueItem
	for rows.Next() {
		var d dispatch.DueItem
		q := &d.Item
		err := rows.Scan(
			&q.ID, &q.CampaignID, &q.SubscriberID, &q.Subject, &q.Body,
			&q.Status, &q.Attempts, &q.ErrorMessage, &q.MessageID,
			&q.ScheduledAt, &q.SentAt, &q.CreatedAt, &q.UpdatedAt,
			&d.Email, &d.FirstName, &d.LastName, &d.UnsubscribeToken,
			&d.FromName, &d.FromEmail, &d.BCC,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due item: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkProcessing claims a pending item. The claim and the attempt
// increment are one statement, so two ticks racing over the same item
// leave exactly one holding it. Also promotes the owning campaign out of
// pending on the first claimed item.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (int, bool, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING attempts
	`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark processing: %w", err)
	}

	// Best effort. A failure here leaves the campaign pending until the
	// next claim; the item is already ours either way.
	_, err = s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'processing', updated_at = NOW()
		WHERE status = 'pending' AND id = (SELECT campaign_id FROM queue_items WHERE id = $1)
	`, id)
	if err != nil {
		logger.Warn("campaign promotion failed", "queue_item_id", id, "err", err)
	}
	return attempts, true, nil
}

// MarkSent finalizes a delivered item. The guard on attempts rejects the
// write if the item was recovered and re-claimed while this send was in
// flight.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, attempts int, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'sent', sent_at = NOW(), message_id = $3, error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND attempts = $2
	`, id, attempts, messageID)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Reschedule returns a failed item to pending with a new due time.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAt time.Time, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', scheduled_at = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND attempts = $2
	`, id, attempts, nextAt, errMsg)
	if err != nil {
		return false, fmt.Errorf("reschedule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed terminally fails an item that has exhausted its attempts.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'failed', error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND attempts = $2
	`, id, attempts, errMsg)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelQueueItem cancels a single non-terminal item.
func (s *Store) CancelQueueItem(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id)
	if err != nil {
		return fmt.Errorf("cancel queue item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM queue_items WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("cancel queue item: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// QueueFilter narrows ListQueueItems.
type QueueFilter struct {
	CampaignID uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

func (s *Store) ListQueueItems(ctx context.Context, f QueueFilter) ([]domain.QueueItem, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := ` WHERE campaign_id = $1`
	args := []interface{}{f.CampaignID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	q := `
		SELECT id, campaign_id, subscriber_id, subject, body, status, attempts,
		       COALESCE(error_message,''), COALESCE(message_id,''),
		       scheduled_at, sent_at, created_at, updated_at
		FROM queue_items` + where +
		fmt.Sprintf(" ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueItem
	for rows.Next() {
		var it domain.QueueItem
		err := rows.Scan(
			&it.ID, &it.CampaignID, &it.SubscriberID, &it.Subject, &it.Body,
			&it.Status, &it.Attempts, &it.ErrorMessage, &it.MessageID,
			&it.ScheduledAt, &it.SentAt, &it.CreatedAt, &it.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}
