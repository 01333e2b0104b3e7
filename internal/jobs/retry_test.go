package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/weave/internal/config"
)

func TestRetryPolicyFrom(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		RetryMaxAttempts: 5,
		RetryBackoffBase: 4 * time.Second,
		RetryJitterMax:   100 * time.Millisecond,
	}

	got := RetryPolicyFrom(cfg)
	want := RetryPolicy{MaxAttempts: 5, BackoffBase: 4 * time.Second, JitterMax: 100 * time.Millisecond}
	if got != want {
		t.Fatalf("RetryPolicyFrom(cfg) = %+v, want %+v", got, want)
	}

	if got := RetryPolicyFrom(nil); got != DefaultRetryPolicy() {
		t.Fatalf("RetryPolicyFrom(nil) = %+v, want defaults", got)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BackoffBase: 2 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: 2 * time.Second},
		{attempt: 0, want: 2 * time.Second},
		{attempt: 1, want: 4 * time.Second},
		{attempt: 2, want: 8 * time.Second},
		{attempt: 3, want: 16 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return WrapCategory(CategoryContentPolicy, errors.New("refused"))
	})
	if err == nil {
		t.Fatal("Do() = nil, want error")
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1 for a permanent failure", calls)
	}
}

func TestDoRetriesTransientError(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond}

	cause := errors.New("dial tcp: connection refused")
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	if calls != 2 {
		t.Fatalf("fn called %d times, want 2", calls)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Do() = %v, want wrapped %v", err, cause)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 5, BackoffBase: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while Do is sleeping between the first and second attempt.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("timeout waiting for response")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
}
