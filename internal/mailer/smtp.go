package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/config"
	"github.com/brightpost/newsletter/internal/pkg/logger"
)

// SMTPMailer sends email through a configured SMTP submission host.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	fromName string
	fromAddr string
}

// NewSMTPMailer creates an SMTP transport from the mailer configuration.
func NewSMTPMailer(cfg config.MailerConfig) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		fromName: cfg.FromName,
		fromAddr: cfg.FromEmail,
	}
}

// IsConfigured reports whether an SMTP host is set.
func (m *SMTPMailer) IsConfigured() bool {
	return m.host != "" && m.port != 0
}

// Send builds a MIME message and submits it over SMTP. Recipient-level
// rejections (RCPT/DATA failures) come back as an unsuccessful SendResult;
// connection failures come back as errors.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if !m.IsConfigured() {
		return nil, fmt.Errorf("smtp transport not configured")
	}

	fromName, fromAddr := msg.FromName, msg.FromEmail
	if fromAddr == "" {
		fromName, fromAddr = m.fromName, m.fromAddr
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), m.host)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", fromName, fromAddr)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	for k, v := range msg.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.HTMLBody)
	buf.WriteString("\r\n")

	rcpts := []string{msg.To}
	if msg.BCC != "" {
		rcpts = append(rcpts, msg.BCC)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := m.submit(ctx, addr, fromAddr, rcpts, buf.Bytes()); err != nil {
		return &SendResult{Success: false, ErrorDetail: err.Error()}, nil
	}

	logger.Debug("smtp delivered", "to", msg.To, "message_id", messageID)
	return &SendResult{Success: true, MessageID: messageID, SentAt: time.Now()}, nil
}

func (m *SMTPMailer) submit(ctx context.Context, addr, from string, rcpts []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: m.host}
		if tlsErr := client.StartTLS(tlsCfg); tlsErr != nil {
			logger.Warn("STARTTLS failed, continuing without TLS", "err", tlsErr)
		}
	}
	if m.username != "" && m.password != "" {
		if err := client.Auth(&plainAuth{user: m.username, pass: m.password}); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", logger.RedactEmail(rcpt), err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// plainAuth implements smtp.Auth without the TLS requirement that stdlib's
// PlainAuth enforces. Submission hosts on private networks often accept
// AUTH PLAIN on the cleartext port.
type plainAuth struct {
	user string
	pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := []byte("\x00" + a.user + "\x00" + a.pass)
	return "PLAIN", resp, nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge")
	}
	return nil, nil
}
