package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/brightpost/newsletter/internal/mailer"
	"github.com/brightpost/newsletter/internal/pkg/distlock"
	"github.com/brightpost/newsletter/internal/pkg/logger"
	"github.com/brightpost/newsletter/internal/render"
)

// Config holds the dispatcher tuning knobs.
type Config struct {
	BatchSize    int           // items attempted per tick
	MaxAttempts  int           // terminal failure threshold
	BackoffStep  time.Duration // linear multiplier: Nth failure waits N×step
	StuckTimeout time.Duration // processing items older than this are reclaimed

	// UnsubscribeBaseURL is the public base for unsubscribe links exposed
	// to templates and the List-Unsubscribe header.
	UnsubscribeBaseURL string
}

// DefaultConfig returns the documented defaults: batches of 10, three
// attempts, two-minute backoff step, five-minute stuck timeout.
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		MaxAttempts:  3,
		BackoffStep:  2 * time.Minute,
		StuckTimeout: 5 * time.Minute,
	}
}

// TickStats summarizes what one tick did.
type TickStats struct {
	Requeued  int64 // stuck items returned to pending
	DeadEnded int64 // stuck items terminally failed
	Attempted int
	Sent      int
	Retried   int
	Failed    int
	Discarded int // outcome writes lost to a concurrent cancel
}

// Dispatcher drains the send queue one tick at a time. Items within a tick
// are processed sequentially, so tick duration is bounded by batch size
// times per-send latency.
type Dispatcher struct {
	store    Store
	mail     mailer.Mailer
	renderer *render.Renderer
	limiter  *RateLimiter      // nil disables rate limiting
	lock     distlock.DistLock // nil disables single-ticker locking
	cfg      Config
}

// New creates a dispatcher. Zero config fields get defaults.
func New(store Store, mail mailer.Mailer, renderer *render.Renderer, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = def.BackoffStep
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = def.StuckTimeout
	}
	return &Dispatcher{store: store, mail: mail, renderer: renderer, cfg: cfg}
}

// SetRateLimiter attaches an hourly send cap. A nil limiter disables it.
func (d *Dispatcher) SetRateLimiter(l *RateLimiter) {
	d.limiter = l
}

// SetTickLock attaches a distributed lock so only one worker replica runs a
// tick at a time. A nil lock disables it.
func (d *Dispatcher) SetTickLock(l distlock.DistLock) {
	d.lock = l
}

// Run ticks on the given interval until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	logger.Info("dispatcher starting",
		"interval", interval, "batch_size", d.cfg.BatchSize, "max_attempts", d.cfg.MaxAttempts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil {
				logger.Error("dispatch tick failed", "err", err)
			}
		}
	}
}

// Tick performs one dispatch pass: recovery, selection, delivery.
func (d *Dispatcher) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats

	// A misconfigured transport aborts the whole tick with no rows
	// touched.
	if !d.mail.IsConfigured() {
		return stats, ErrMailerNotConfigured
	}

	if d.lock != nil {
		acquired, err := d.lock.Acquire(ctx)
		if err != nil {
			logger.Warn("tick lock unavailable, proceeding unlocked", "err", err)
		} else if !acquired {
			logger.Debug("tick held by another worker, skipping")
			return stats, nil
		} else {
			defer d.lock.Release(ctx)
		}
	}

	// Recovery runs before selection so reclaimed items are immediately
	// eligible again.
	requeued, deadEnded, err := d.store.RecoverStuck(ctx, d.cfg.StuckTimeout, d.cfg.MaxAttempts)
	if err != nil {
		logger.Error("stuck recovery failed", "err", err)
	} else {
		stats.Requeued, stats.DeadEnded = requeued, deadEnded
		if requeued > 0 || deadEnded > 0 {
			logger.Info("stuck items reclaimed", "requeued", requeued, "failed", deadEnded)
		}
	}

	items, err := d.store.DueItems(ctx, d.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("select due items: %w", err)
	}

	for _, due := range items {
		if d.limiter != nil {
			allowed, err := d.limiter.Allow(ctx)
			if err != nil {
				logger.Warn("rate limit check failed, proceeding", "err", err)
			} else if !allowed {
				logger.Info("hourly send limit reached, deferring remainder",
					"deferred", len(items)-stats.Attempted)
				break
			}
		}
		// One failing item must not abort the rest of the batch.
		d.processItem(ctx, due, &stats)
	}

	return stats, nil
}

// processItem drives a single queue item through pre-mark, render, send,
// and outcome recording.
func (d *Dispatcher) processItem(ctx context.Context, due DueItem, stats *TickStats) {
	item := due.Item

	// Pre-mark is the crash-safety boundary: attempts is incremented
	// before the send so a crash mid-send cannot replay past the cap, and
	// the conditional update keeps two overlapping ticks from
	// double-sending the same row.
	attempts, ok, err := d.store.MarkProcessing(ctx, item.ID)
	if err != nil {
		logger.Error("pre-mark failed", "queue_item_id", item.ID, "err", err)
		return
	}
	if !ok {
		// Claimed by a concurrent tick or cancelled since selection.
		return
	}
	stats.Attempted++

	bindings := render.Bindings{
		FirstName:      due.FirstName,
		LastName:       due.LastName,
		Email:          due.Email,
		UnsubscribeURL: render.UnsubscribeURL(d.cfg.UnsubscribeBaseURL, due.UnsubscribeToken),
	}
	subject, err := d.renderer.Render(item.Subject, bindings)
	if err != nil {
		logger.Warn("subject render degraded", "queue_item_id", item.ID, "err", err)
	}
	body, err := d.renderer.Render(item.Body, bindings)
	if err != nil {
		logger.Warn("body render degraded", "queue_item_id", item.ID, "err", err)
	}

	headers := map[string]string{}
	if bindings.UnsubscribeURL != "" {
		headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", bindings.UnsubscribeURL)
		headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}

	msg := &mailer.Message{
		QueueItemID:  item.ID.String(),
		CampaignID:   item.CampaignID.String(),
		SubscriberID: item.SubscriberID.String(),
		To:           due.Email,
		BCC:          due.BCC,
		FromName:     due.FromName,
		FromEmail:    due.FromEmail,
		Subject:      subject,
		HTMLBody:     body,
		Headers:      headers,
	}

	result, sendErr := d.mail.Send(ctx, msg)
	if sendErr == nil && result != nil && result.Success {
		applied, err := d.store.MarkSent(ctx, item.ID, attempts, result.MessageID)
		if err != nil {
			logger.Error("mark sent failed", "queue_item_id", item.ID, "err", err)
			return
		}
		if !applied {
			stats.Discarded++
			logger.Warn("sent outcome discarded, row state changed under us",
				"queue_item_id", item.ID)
			return
		}
		stats.Sent++
		logger.Info("delivered", "queue_item_id", item.ID, "email", due.Email, "attempts", attempts)
		return
	}

	detail := "send failed"
	if sendErr != nil {
		detail = sendErr.Error()
	} else if result != nil && result.ErrorDetail != "" {
		detail = result.ErrorDetail
	}

	if attempts < d.cfg.MaxAttempts {
		nextAt := time.Now().Add(time.Duration(attempts) * d.cfg.BackoffStep)
		errMsg := fmt.Sprintf("attempt %d failed: %s", attempts, detail)
		applied, err := d.store.Reschedule(ctx, item.ID, attempts, nextAt, errMsg)
		if err != nil {
			logger.Error("reschedule failed", "queue_item_id", item.ID, "err", err)
			return
		}
		if !applied {
			stats.Discarded++
			return
		}
		stats.Retried++
		logger.Warn("delivery failed, rescheduled",
			"queue_item_id", item.ID, "attempts", attempts, "next_at", nextAt, "err", detail)
		return
	}

	errMsg := fmt.Sprintf("failed after %d attempts: %s", attempts, detail)
	applied, err := d.store.MarkFailed(ctx, item.ID, attempts, errMsg)
	if err != nil {
		logger.Error("mark failed errored", "queue_item_id", item.ID, "err", err)
		return
	}
	if !applied {
		stats.Discarded++
		return
	}
	stats.Failed++
	logger.Error("delivery permanently failed",
		"queue_item_id", item.ID, "attempts", attempts, "err", detail)
}
