// Package retry runs an operation under a bounded exponential backoff.
//
// A Policy is bounded by total elapsed time rather than attempt count: the
// loop stops scheduling attempts once the next delay would cross MaxElapsed,
// and returns the last error unchanged so callers can still inspect its kind.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
)

// Policy configures one backoff loop.
type Policy struct {
	MaxElapsed time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter scales each delay by a random factor in [1-Jitter, 1+Jitter].
	Jitter float64

	// Retryable decides whether err warrants another attempt. Nil means
	// errs.IsRetryable.
	Retryable func(err error) bool

	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// FromConfig converts a config section into a Policy.
func FromConfig(rc config.RetryConfig) Policy {
	return Policy{
		MaxElapsed: rc.MaxElapsed,
		BaseDelay:  rc.BaseDelay,
		MaxDelay:   rc.MaxDelay,
		Multiplier: rc.Multiplier,
	}
}

// Backoff returns the delay after the given attempt (1-indexed), capped at
// MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 0)) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*math.Min(p.Jitter, 1)
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return errs.IsRetryable(err)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// elapsed budget is spent.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for functions that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !p.retryable(err) {
			return v, err
		}

		delay := p.Backoff(attempt)
		if time.Since(start)+delay > p.MaxElapsed {
			return v, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, errs.Wrap(errs.ErrKindTimeout, "retry interrupted", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
