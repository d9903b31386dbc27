package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/brightpost/newsletter/internal/config"
	"github.com/brightpost/newsletter/internal/pkg/logger"
)

// SESMailer sends email via AWS SES using the SDK v2.
type SESMailer struct {
	region   string
	fromName string
	fromAddr string
	client   *sesv2.Client
}

// NewSESMailer creates an SES transport. The SDK client is only
// initialized when static credentials are present.
func NewSESMailer(cfg config.MailerConfig) *SESMailer {
	m := &SESMailer{
		region:   cfg.SESRegion,
		fromName: cfg.FromName,
		fromAddr: cfg.FromEmail,
	}

	if cfg.SESAccessKey != "" && cfg.SESSecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.SESRegion),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, ""),
			),
		)
		if err != nil {
			logger.Warn("ses config init failed", "err", err)
		} else {
			m.client = sesv2.NewFromConfig(awsCfg)
		}
	}

	return m
}

// IsConfigured reports whether the SES client was initialized.
func (m *SESMailer) IsConfigured() bool {
	return m.client != nil
}

// Send delivers a single email through SES. API-level rejections come back
// as an unsuccessful SendResult rather than an error so the dispatcher can
// apply per-item retry handling.
func (m *SESMailer) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if m.client == nil {
		return nil, fmt.Errorf("ses transport not configured")
	}

	fromName, fromAddr := msg.FromName, msg.FromEmail
	if fromAddr == "" {
		fromName, fromAddr = m.fromName, m.fromAddr
	}

	dest := &types.Destination{ToAddresses: []string{msg.To}}
	if msg.BCC != "" {
		dest.BccAddresses = []string{msg.BCC}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", fromName, fromAddr)),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("queue_item_id"), Value: aws.String(msg.QueueItemID)},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return &SendResult{Success: false, ErrorDetail: err.Error()}, nil
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}

	logger.Debug("ses delivered", "to", msg.To, "message_id", messageID)
	return &SendResult{Success: true, MessageID: messageID, SentAt: time.Now()}, nil
}
