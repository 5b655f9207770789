package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/sethvargo/go-retry"
)

// OTPNotifier renders OTP emails and pushes them through a Sender, retrying
// transient failures with exponential backoff.
type OTPNotifier struct {
	sender     Sender
	logger     *slog.Logger
	maxRetries uint64
	baseDelay  time.Duration
	ttls       map[domain.OTPPurpose]time.Duration
}

func NewOTPNotifier(sender Sender, logger *slog.Logger, maxRetries uint64, verifyTTL, resetTTL time.Duration) *OTPNotifier {
	return &OTPNotifier{
		sender:     sender,
		logger:     logger.With("component", "otp_notifier"),
		maxRetries: maxRetries,
		baseDelay:  200 * time.Millisecond,
		ttls: map[domain.OTPPurpose]time.Duration{
			domain.OTPPurposeVerify: verifyTTL,
			domain.OTPPurposeReset:  resetTTL,
		},
	}
}

// WithBaseDelay overrides the first backoff step.
func (n *OTPNotifier) WithBaseDelay(d time.Duration) *OTPNotifier {
	n.baseDelay = d
	return n
}

func (n *OTPNotifier) Notify(ctx context.Context, to, code string, purpose domain.OTPPurpose) error {
	subject, body := render(code, purpose, n.ttls[purpose])

	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.baseDelay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := n.sender.Send(ctx, to, subject, body); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			n.logger.WarnContext(ctx, "otp email attempt failed", "purpose", purpose, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(purpose), "failed").Inc()
		ctxlog.LogError(ctx, n.logger, "otp email not delivered", err)
		return fmt.Errorf("notify %s otp: %w", purpose, err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(purpose), "sent").Inc()
	n.logger.InfoContext(ctx, "otp email sent", "purpose", purpose, "attempts", attempt)
	return nil
}

func render(code string, purpose domain.OTPPurpose, ttl time.Duration) (subject, body string) {
	code = html.EscapeString(code)
	validity := humanize(ttl)

	switch purpose {
	case domain.OTPPurposeReset:
		return "Password Reset OTP", fmt.Sprintf(
			`<p>Your password reset code is <strong>%s</strong>.</p><p>It expires in %s. If you did not ask to reset your password, ignore this email.</p>`,
			code, validity)
	default:
		return "Account Verification OTP", fmt.Sprintf(
			`<p>Your account verification code is <strong>%s</strong>.</p><p>It expires in %s.</p>`,
			code, validity)
	}
}

func humanize(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
}
