// Package mailer executes notify.email jobs via SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/tombolo/tombolo/internal/jobs"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Config holds SMTP sender configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
}

// Sender delivers buyer and organizer emails. It implements
// jobs.Executor for the notify.email job type. Delivery is idempotent
// from the queue's point of view: a redelivered job sends the same
// mail again, which is acceptable for receipts and reminders.
type Sender struct {
	config Config
	auth   smtp.Auth
	titler cases.Caser
}

// NewSender creates a sender. Returns an error if enabled without the
// required SMTP settings.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("mailer: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("mailer: from address is required when enabled")
		}
	}
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("mailer configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Sender{
		config: config,
		auth:   auth,
		titler: cases.Title(language.English),
	}, nil
}

// Result is stored on the completed job record.
type Result struct {
	Delivered bool   `json:"delivered"`
	Recipient string `json:"recipient"`
}

// Execute sends the email described by a notify.email payload.
func (s *Sender) Execute(ctx context.Context, payload any) (any, error) {
	mail, ok := payload.(*jobs.NotifyEmailPayload)
	if !ok {
		return nil, fmt.Errorf("mailer: unexpected payload type %T", payload)
	}

	subject := fmt.Sprintf("%s for raffle %s", s.titler.String(mail.Kind), mail.RaffleID)
	body := s.buildBody(mail)

	if !s.config.Enabled {
		slog.Warn("mailer disabled, skipping send",
			"to", mail.To,
			"kind", mail.Kind,
		)
		return Result{Delivered: false, Recipient: mail.To}, nil
	}

	if err := s.send(ctx, subject, body, mail.To); err != nil {
		return nil, err
	}
	return Result{Delivered: true, Recipient: mail.To}, nil
}

func (s *Sender) buildBody(mail *jobs.NotifyEmailPayload) string {
	var b strings.Builder
	switch mail.Kind {
	case "receipt":
		fmt.Fprintf(&b, "Thank you for your purchase.\r\n\r\nOrder: %s\r\nRaffle: %s\r\n", mail.OrderID, mail.RaffleID)
	case "winner":
		fmt.Fprintf(&b, "Congratulations! Your ticket won in raffle %s.\r\n", mail.RaffleID)
	case "reminder":
		fmt.Fprintf(&b, "The draw for raffle %s is coming up soon.\r\n", mail.RaffleID)
	default:
		fmt.Fprintf(&b, "Update for raffle %s.\r\n", mail.RaffleID)
	}
	return b.String()
}

func (s *Sender) send(ctx context.Context, subject, body, recipient string) error {
	msg := s.buildMessage(subject, body, recipient)
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.config.FromAddress); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}

	return client.Quit()
}

func (s *Sender) buildMessage(subject, body, recipient string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}
