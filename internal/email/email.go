package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	jwemail "github.com/jordan-wright/email"
	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them. The console is the delivery
// channel, so the body is printed; config refuses this provider outside ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "email")}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email via resend: %w", err)
	}
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender relays through a plain SMTP server with PLAIN auth.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(e *jwemail.Email, addr string, auth smtp.Auth) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg: cfg,
		send: func(e *jwemail.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := jwemail.NewEmail()
	e.From = s.cfg.From
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	if err := s.send(e, addr, auth); err != nil {
		return fmt.Errorf("send email via smtp: %w", err)
	}
	return nil
}

type Options struct {
	Provider     string
	From         string
	ResendAPIKey string
	SMTP         SMTPConfig
}

// NewSender picks the transport named by opts.Provider; anything unknown
// falls back to logging.
func NewSender(opts Options, logger *slog.Logger) Sender {
	switch opts.Provider {
	case "resend":
		return NewResendSender(opts.ResendAPIKey, opts.From)
	case "smtp":
		cfg := opts.SMTP
		if cfg.From == "" {
			cfg.From = opts.From
		}
		return NewSMTPSender(cfg)
	default:
		return NewLogSender(logger)
	}
}
