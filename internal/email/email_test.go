package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	jwemail "github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []sentMail
	block    chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp 451 try again later")
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeSender) snapshot() (int, []sentMail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]sentMail(nil), f.sent...)
}

func TestNotify_RendersVerifyEmail(t *testing.T) {
	sender := &fakeSender{}
	n := NewOTPNotifier(sender, discardLogger(), 0, 24*time.Hour, 15*time.Minute)

	require.NoError(t, n.Notify(context.Background(), "ann@x.io", "042917", domain.OTPPurposeVerify))

	_, sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "ann@x.io", sent[0].to)
	assert.Equal(t, "Account Verification OTP", sent[0].subject)
	assert.Contains(t, sent[0].body, "042917")
	assert.Contains(t, sent[0].body, "24 hours")
}

func TestNotify_RendersResetEmail(t *testing.T) {
	sender := &fakeSender{}
	n := NewOTPNotifier(sender, discardLogger(), 0, 24*time.Hour, 15*time.Minute)

	require.NoError(t, n.Notify(context.Background(), "ann@x.io", "555123", domain.OTPPurposeReset))

	_, sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "Password Reset OTP", sent[0].subject)
	assert.Contains(t, sent[0].body, "15 minutes")
}

func TestNotify_RetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failures: 2}
	n := NewOTPNotifier(sender, discardLogger(), 3, time.Hour, time.Hour).WithBaseDelay(time.Millisecond)

	require.NoError(t, n.Notify(context.Background(), "ann@x.io", "000001", domain.OTPPurposeVerify))

	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, sent, 1)
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{failures: 10}
	n := NewOTPNotifier(sender, discardLogger(), 2, time.Hour, time.Hour).WithBaseDelay(time.Millisecond)

	err := n.Notify(context.Background(), "ann@x.io", "000001", domain.OTPPurposeVerify)
	require.Error(t, err)

	calls, _ := sender.snapshot()
	assert.Equal(t, 3, calls)
}

func TestNotify_CancelledContextStopsRetrying(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	n := NewOTPNotifier(sender, discardLogger(), 5, time.Hour, time.Hour).WithBaseDelay(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Notify(ctx, "ann@x.io", "000001", domain.OTPPurposeVerify)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "1 hour", humanize(time.Hour))
	assert.Equal(t, "24 hours", humanize(24*time.Hour))
	assert.Equal(t, "15 minutes", humanize(15*time.Minute))
	assert.Equal(t, "a short while", humanize(0))
}

func TestRender_EscapesCode(t *testing.T) {
	_, body := render("<b>", domain.OTPPurposeVerify, time.Hour)
	assert.NotContains(t, body, "<b>")
	assert.Contains(t, body, "&lt;b&gt;")
}

func TestNewSender_SelectsProvider(t *testing.T) {
	logger := discardLogger()

	assert.IsType(t, &LogSender{}, NewSender(Options{Provider: "log"}, logger))
	assert.IsType(t, &ResendSender{}, NewSender(Options{Provider: "resend", ResendAPIKey: "re_x", From: "a@x.io"}, logger))

	s := NewSender(Options{Provider: "smtp", From: "auth@x.io", SMTP: SMTPConfig{Host: "mail.x.io", Port: 25}}, logger)
	require.IsType(t, &SMTPSender{}, s)
	assert.Equal(t, "auth@x.io", s.(*SMTPSender).cfg.From)
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.x.io", Port: 2525, Username: "u", Password: "p", From: "auth@x.io"})

	var gotAddr string
	var gotAuth smtp.Auth
	var got *jwemail.Email
	s.send = func(e *jwemail.Email, addr string, auth smtp.Auth) error {
		got, gotAddr, gotAuth = e, addr, auth
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "ann@x.io", "Hello", "<p>hi</p>"))
	assert.Equal(t, "mail.x.io:2525", gotAddr)
	assert.NotNil(t, gotAuth)
	require.NotNil(t, got)
	assert.Equal(t, "auth@x.io", got.From)
	assert.Equal(t, []string{"ann@x.io"}, got.To)
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, []byte("<p>hi</p>"), got.HTML)
}

func TestSMTPSender_NoAuthWithoutUsername(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 1025, From: "auth@x.io"})

	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	s.send = func(_ *jwemail.Email, _ string, auth smtp.Auth) error {
		gotAuth = auth
		return errors.New("connection refused")
	}

	err := s.Send(context.Background(), "ann@x.io", "s", "b")
	require.Error(t, err)
	assert.Nil(t, gotAuth)
}

type countingNotifier struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingNotifier) Notify(ctx context.Context, _, _ string, _ domain.OTPPurpose) error {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.calls.Add(1)
	return nil
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	next := &countingNotifier{}
	d := NewDispatcher(next, discardLogger(), 4, time.Second)

	for range 20 {
		require.NoError(t, d.Notify(context.Background(), "ann@x.io", "123456", domain.OTPPurposeVerify))
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(20), next.calls.Load())

	err := d.Notify(context.Background(), "ann@x.io", "123456", domain.OTPPurposeVerify)
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_SurvivesCallerCancellation(t *testing.T) {
	next := &countingNotifier{release: make(chan struct{})}
	d := NewDispatcher(next, discardLogger(), 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Notify(ctx, "ann@x.io", "123456", domain.OTPPurposeVerify))
	cancel()
	close(next.release)

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestDispatcher_BlocksWhenSaturated(t *testing.T) {
	next := &countingNotifier{release: make(chan struct{})}
	d := NewDispatcher(next, discardLogger(), 1, time.Second)

	require.NoError(t, d.Notify(context.Background(), "a@x.io", "1", domain.OTPPurposeVerify))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Notify(ctx, "b@x.io", "2", domain.OTPPurposeVerify)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(next.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(1), next.calls.Load())
}
