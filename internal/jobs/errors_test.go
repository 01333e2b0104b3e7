package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"horse.fit/weave/internal/globaltime"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{name: "nil", err: nil, want: CategoryUnknown},
		{
			name: "explicit tag wins",
			err:  WrapCategory(CategoryBudgetExceeded, errors.New("daily budget exceeded")),
			want: CategoryBudgetExceeded,
		},
		{
			name: "explicit tag survives wrapping",
			err:  fmt.Errorf("enrich story 5: %w", WrapCategory(CategoryContentPolicy, errors.New("refused"))),
			want: CategoryContentPolicy,
		},
		{name: "http 401", err: &HTTPStatusError{Status: 401}, want: CategoryInfraAuth},
		{name: "http 403", err: &HTTPStatusError{Status: 403}, want: CategoryInfraAuth},
		{name: "http 402", err: &HTTPStatusError{Status: 402}, want: CategoryBudgetExceeded},
		{name: "http 429", err: &HTTPStatusError{Status: 429}, want: CategoryRateLimit},
		{name: "http 413", err: &HTTPStatusError{Status: 413}, want: CategoryTokenLimit},
		{name: "http 500", err: &HTTPStatusError{Status: 500}, want: CategoryNetworkTimeout},
		{name: "http 503", err: &HTTPStatusError{Status: 503}, want: CategoryNetworkTimeout},
		{
			name: "http 400 with policy body",
			err:  &HTTPStatusError{Status: 400, Body: `{"error": "request blocked by content policy"}`},
			want: CategoryContentPolicy,
		},
		{
			name: "http 400 with context length body",
			err:  &HTTPStatusError{Status: 400, Body: "maximum context length is 8192 tokens"},
			want: CategoryTokenLimit,
		},
		{
			name: "http 400 otherwise",
			err:  &HTTPStatusError{Status: 400, Body: "malformed request"},
			want: CategoryInvalidResponse,
		},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: CategoryNetworkTimeout},
		{
			name: "wrapped deadline",
			err:  fmt.Errorf("call completion endpoint: %w", context.DeadlineExceeded),
			want: CategoryNetworkTimeout,
		},
		{name: "json syntax error", err: &json.SyntaxError{}, want: CategoryJSONParse},
		{name: "json type error", err: &json.UnmarshalTypeError{Value: "string", Field: "severity"}, want: CategoryJSONParse},
		{name: "rate limit message", err: errors.New("upstream says: rate limit reached"), want: CategoryRateLimit},
		{name: "connection refused message", err: errors.New("dial tcp: connection refused"), want: CategoryNetworkTimeout},
		{name: "invalid api key message", err: errors.New("invalid api key provided"), want: CategoryInfraAuth},
		{name: "anything else", err: errors.New("something odd happened"), want: CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestCategoryPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category            Category
		wantMaxAttempts     int
		wantCountsAgainst   bool
		wantNonZeroCooldown bool
	}{
		{category: CategoryInfraAuth, wantMaxAttempts: 5, wantNonZeroCooldown: true},
		{category: CategoryBudgetExceeded, wantMaxAttempts: 30, wantNonZeroCooldown: true},
		{category: CategoryRateLimit, wantMaxAttempts: 6, wantNonZeroCooldown: true},
		{category: CategoryNetworkTimeout, wantMaxAttempts: 3, wantNonZeroCooldown: true},
		{category: CategoryJSONParse, wantMaxAttempts: 2, wantCountsAgainst: true, wantNonZeroCooldown: true},
		{category: CategoryInvalidResponse, wantMaxAttempts: 2, wantCountsAgainst: true, wantNonZeroCooldown: true},
		{category: CategoryContentPolicy, wantMaxAttempts: 0, wantCountsAgainst: true},
		{category: CategoryTokenLimit, wantMaxAttempts: 0, wantCountsAgainst: true},
		{category: CategoryUnknown, wantMaxAttempts: 3, wantNonZeroCooldown: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()

			policy := tt.category.Policy()
			if policy.MaxAttempts != tt.wantMaxAttempts {
				t.Fatalf("MaxAttempts = %d, want %d", policy.MaxAttempts, tt.wantMaxAttempts)
			}
			if policy.CountsAgainstEntity != tt.wantCountsAgainst {
				t.Fatalf("CountsAgainstEntity = %v, want %v", policy.CountsAgainstEntity, tt.wantCountsAgainst)
			}
			if tt.wantNonZeroCooldown && policy.Cooldown <= 0 {
				t.Fatalf("Cooldown = %v, want > 0", policy.Cooldown)
			}
		})
	}
}

func TestBudgetCooldownEndsAtMidnightUTC(t *testing.T) {
	// Mocks the shared clock, so no t.Parallel.
	globaltime.SetMockTime(time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	policy := CategoryBudgetExceeded.Policy()
	if policy.Cooldown != 90*time.Minute {
		t.Fatalf("Cooldown = %v, want 90m until the next UTC midnight", policy.Cooldown)
	}

	globaltime.SetMockTime(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	if got := CategoryBudgetExceeded.Policy().Cooldown; got != 24*time.Hour {
		t.Fatalf("Cooldown at midnight = %v, want 24h", got)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	if Retryable(CategoryContentPolicy) {
		t.Fatal("Retryable(content_policy) = true, want false")
	}
	if Retryable(CategoryTokenLimit) {
		t.Fatal("Retryable(token_limit) = true, want false")
	}
	if !Retryable(CategoryRateLimit) {
		t.Fatal("Retryable(rate_limit) = false, want true")
	}
	if !Retryable(CategoryUnknown) {
		t.Fatal("Retryable(unknown) = false, want true")
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := WrapCategory(CategoryRateLimit, inner)
	if !errors.Is(err, inner) {
		t.Fatal("wrapped error lost its cause")
	}
	if got := err.Error(); got != "rate_limit: boom" {
		t.Fatalf("Error() = %q, want %q", got, "rate_limit: boom")
	}
	if WrapCategory(CategoryRateLimit, nil) != nil {
		t.Fatal("WrapCategory(nil) should return nil")
	}
}
