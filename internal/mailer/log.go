package mailer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/pkg/logger"
)

// LogMailer is a local transport that records sends without delivering
// anything. Used for development and dry runs.
type LogMailer struct{}

// NewLogMailer creates the log transport.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// IsConfigured always returns true; the log transport needs nothing.
func (m *LogMailer) IsConfigured() bool { return true }

// Send logs the message and reports success.
func (m *LogMailer) Send(_ context.Context, msg *Message) (*SendResult, error) {
	id := uuid.New().String()
	logger.Info("log transport: message not delivered",
		"to", msg.To, "subject", msg.Subject, "message_id", id)
	return &SendResult{Success: true, MessageID: id, SentAt: time.Now()}, nil
}
