package match

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/rps-arena/internal/metrics"
	"github.com/park285/rps-arena/internal/obslog"
	"github.com/park285/rps-arena/internal/store"
)

// RetryPolicy bounds retries of transient persistence failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Backoff returns the delay after the given failed attempt: BaseDelay doubled
// per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, fails permanently, the attempts run out
// or ctx ends. Only store.IsTransient errors are retried.
func Retry(ctx context.Context, p RetryPolicy, m *metrics.Metrics, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	start := time.Now()
	defer func() { m.ObservePersist(op, time.Since(start).Seconds()) }()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !store.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		m.PersistRetry(op)
		obslog.L().Warn("store_retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := sleepWithContext(ctx, p.Backoff(attempt)); serr != nil {
			return err
		}
	}
	m.PersistFailed(op)
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
