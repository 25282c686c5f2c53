package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/infrastructure/metrics"
)

// Clock abstracts waiting so retry timing can be faked in tests
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy retries transient upstream failures with capped exponential backoff
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       Clock
}

// NewRetryPolicy creates a retry policy, applying defaults for zero values
func NewRetryPolicy(maxAttempts int, base, max time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Clock:       realClock{},
	}
}

// Backoff returns the delay after the given failed attempt (1-based):
// base, 2*base, 4*base, ... capped at MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. The last error is returned unchanged.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, domain.ErrTransientFetch) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		logging.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("retrying transient failure")
		metrics.FetchRetries.Inc()

		if err := clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	logging.Warn().Str("op", op).Int("attempts", p.MaxAttempts).Err(lastErr).Msg("retries exhausted")
	return lastErr
}
