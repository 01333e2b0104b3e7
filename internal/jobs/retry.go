package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"horse.fit/weave/internal/config"
)

// RetryPolicy is the generic in-handler retry wrapper for outbound calls.
// It is distinct from job-level rescheduling: this retries within one job
// attempt, the worker reschedules across attempts.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	JitterMax   time.Duration
}

// DefaultRetryPolicy matches the production defaults: 3 attempts,
// exponential backoff from 2s, up to 250ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		JitterMax:   250 * time.Millisecond,
	}
}

// RetryPolicyFrom maps the application configuration onto a RetryPolicy.
func RetryPolicyFrom(cfg *config.Config) RetryPolicy {
	if cfg == nil {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffBase: cfg.RetryBackoffBase,
		JitterMax:   cfg.RetryJitterMax,
	}
}

// Backoff returns the deterministic delay before the given zero-based
// retry, without jitter: base * 2^attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := p.BackoffBase
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

// Do invokes fn up to MaxAttempts times, sleeping Backoff(i) plus jitter
// between attempts. Only transiently classified errors are retried;
// permanent categories return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			if p.JitterMax > 0 {
				delay += time.Duration(rand.Int63n(int64(p.JitterMax)))
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryableInline(Classify(lastErr)) {
			return lastErr
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

// retryableInline limits in-handler retries to failures that can clear
// within seconds. Rate limits and budget caps wait for the job-level
// reschedule instead of blocking a worker slot.
func retryableInline(category Category) bool {
	switch category {
	case CategoryNetworkTimeout, CategoryUnknown:
		return true
	default:
		return false
	}
}
