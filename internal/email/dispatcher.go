package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
)

var ErrDispatcherClosed = errors.New("notification dispatcher closed")

type notifier interface {
	Notify(ctx context.Context, to, code string, purpose domain.OTPPurpose) error
}

// Dispatcher hands notifications to background goroutines so the request
// that issued the code never waits on email delivery. At most cap(sem)
// deliveries run at once; Notify blocks for a free slot.
type Dispatcher struct {
	next    notifier
	logger  *slog.Logger
	timeout time.Duration
	sem     chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(next notifier, logger *slog.Logger, concurrency int, timeout time.Duration) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		next:    next,
		logger:  logger.With("component", "notify_dispatcher"),
		timeout: timeout,
		sem:     make(chan struct{}, concurrency),
	}
}

// Notify returns once delivery has been scheduled. Delivery errors are
// logged by the wrapped notifier and never reach the caller.
func (d *Dispatcher) Notify(ctx context.Context, to, code string, purpose domain.OTPPurpose) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.wg.Add(1)
	// Detach from the request so delivery survives the response being written.
	deliverCtx := context.WithoutCancel(ctx)
	go func() {
		metrics.NotificationsInFlight.Inc()
		defer metrics.NotificationsInFlight.Dec()
		defer d.wg.Done()
		defer func() { <-d.sem }()

		c, cancel := context.WithTimeout(deliverCtx, d.timeout)
		defer cancel()
		if err := d.next.Notify(c, to, code, purpose); err != nil {
			d.logger.DebugContext(c, "background delivery failed", "purpose", purpose)
		}
	}()
	return nil
}

// Close stops accepting work and waits for in-flight deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
