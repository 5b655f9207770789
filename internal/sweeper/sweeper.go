// Package sweeper clears OTPs that expired without being used.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/robfig/cron/v3"
)

type otpStore interface {
	ClearExpiredOTPs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops codes once they have been expired for longer than retention.
// Until then a late attempt with the right code still reports OtpExpired
// rather than OtpNotRequested.
type Sweeper struct {
	store     otpStore
	logger    *slog.Logger
	schedule  cron.Schedule
	retention time.Duration
	now       func() time.Time
}

// New parses spec with the standard cron parser, so both five-field
// expressions and descriptors like "@every 10m" work.
func New(store otpStore, logger *slog.Logger, spec string, retention time.Duration) (*Sweeper, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return NewWithSchedule(store, logger, sched, retention, time.Now), nil
}

func NewWithSchedule(store otpStore, logger *slog.Logger, sched cron.Schedule, retention time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if retention < 0 {
		retention = 0
	}
	return &Sweeper{
		store:     store,
		logger:    logger.With("component", "sweeper"),
		schedule:  sched,
		retention: retention,
		now:       now,
	}
}

// Start sweeps on every schedule tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started", "next_run", s.schedule.Next(s.now()), "retention", s.retention)

	for {
		wait := time.Until(s.schedule.Next(s.now()))
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sweeper shut down")
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				ctxlog.LogError(ctx, s.logger, "sweep failed", err)
			}
		}
	}
}

// Sweep runs one pass and returns how many users had codes cleared.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.SweepCycleDuration.Observe(time.Since(start).Seconds())
	}()

	cleared, err := s.store.ClearExpiredOTPs(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("clear expired otps: %w", err)
	}
	metrics.OTPSweptTotal.Add(float64(cleared))
	if cleared > 0 {
		s.logger.InfoContext(ctx, "expired otps cleared", "users", cleared)
	}
	return cleared, nil
}
