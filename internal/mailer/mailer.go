// Package mailer contains the delivery transports for the dispatch engine.
//
// Transports are split into individual files:
//   - smtp.go: direct SMTP submission with opportunistic STARTTLS
//   - ses.go:  AWS SES v2 API
//   - log.go:  local transport that only logs (development / dry runs)
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/brightpost/newsletter/internal/config"
)

// Message is a fully-rendered email ready for a transport. By the time a
// message reaches this struct all placeholder expansion is complete.
type Message struct {
	QueueItemID  string
	CampaignID   string
	SubscriberID string

	To        string
	BCC       string
	FromName  string
	FromEmail string
	Subject   string
	HTMLBody  string
	Headers   map[string]string
}

// SendResult is returned by a transport after attempting delivery.
// A transport-level rejection is reported with Success=false and
// ErrorDetail set; only infrastructure problems surface as errors.
type SendResult struct {
	Success     bool
	MessageID   string
	ErrorDetail string
	SentAt      time.Time
}

// Mailer delivers a single email. Implementations must be safe for
// sequential reuse across dispatch ticks.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)

	// IsConfigured reports whether the transport has enough configuration
	// to attempt delivery. The dispatcher aborts a whole tick, touching no
	// queue rows, when this returns false.
	IsConfigured() bool
}

// New builds the transport selected by the configuration.
func New(cfg config.MailerConfig) (Mailer, error) {
	switch cfg.Transport {
	case "smtp":
		return NewSMTPMailer(cfg), nil
	case "ses":
		return NewSESMailer(cfg), nil
	case "log":
		return NewLogMailer(), nil
	default:
		return nil, fmt.Errorf("unknown mailer transport %q", cfg.Transport)
	}
}
