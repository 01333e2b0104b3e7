package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"horse.fit/weave/internal/globaltime"
)

// Category is the closed failure taxonomy. Every handler error is mapped
// onto exactly one category before a retry decision is made.
type Category string

const (
	CategoryInfraAuth       Category = "infra_auth"
	CategoryBudgetExceeded  Category = "budget_exceeded"
	CategoryRateLimit       Category = "rate_limit"
	CategoryNetworkTimeout  Category = "network_timeout"
	CategoryJSONParse       Category = "json_parse"
	CategoryInvalidResponse Category = "invalid_response"
	CategoryContentPolicy   Category = "content_policy"
	CategoryTokenLimit      Category = "token_limit"
	CategoryUnknown         Category = "unknown"
)

// CategoryPolicy drives rescheduling for one category.
type CategoryPolicy struct {
	// Cooldown before the job becomes claimable again.
	Cooldown time.Duration
	// MaxAttempts including the failed one; 0 fails permanently at once.
	MaxAttempts int
	// CountsAgainstEntity marks failures attributable to the target
	// entity's content. Infrastructure trouble never penalizes a story.
	CountsAgainstEntity bool
}

// Policy returns the retry policy for the category.
func (c Category) Policy() CategoryPolicy {
	switch c {
	case CategoryInfraAuth:
		return CategoryPolicy{Cooldown: 5 * time.Minute, MaxAttempts: 5}
	case CategoryBudgetExceeded:
		// Claimable again after the daily counter resets; never punitive.
		return CategoryPolicy{Cooldown: untilNextUTCDay(), MaxAttempts: 30}
	case CategoryRateLimit:
		return CategoryPolicy{Cooldown: 30 * time.Minute, MaxAttempts: 6}
	case CategoryNetworkTimeout:
		return CategoryPolicy{Cooldown: 10 * time.Minute, MaxAttempts: 3}
	case CategoryJSONParse, CategoryInvalidResponse:
		return CategoryPolicy{Cooldown: 2 * time.Minute, MaxAttempts: 2, CountsAgainstEntity: true}
	case CategoryContentPolicy, CategoryTokenLimit:
		return CategoryPolicy{MaxAttempts: 0, CountsAgainstEntity: true}
	default:
		return CategoryPolicy{Cooldown: 15 * time.Minute, MaxAttempts: 3}
	}
}

func untilNextUTCDay() time.Duration {
	now := globaltime.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// Error carries a classified failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(CategoryUnknown)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WrapCategory tags err with an explicit category. Handlers use this when
// they know more than the generic classifier, e.g. a budget check.
func WrapCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Err: err}
}

// HTTPStatusError is raised by outbound clients so classification can key
// off the status code.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, body)
}

// Classify maps an arbitrary handler error onto the taxonomy. Explicit
// tags win; then typed errors; message sniffing is the last resort.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Category
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == 401 || statusErr.Status == 403:
			return CategoryInfraAuth
		case statusErr.Status == 402:
			return CategoryBudgetExceeded
		case statusErr.Status == 429:
			return CategoryRateLimit
		case statusErr.Status == 413:
			return CategoryTokenLimit
		case statusErr.Status >= 500:
			return CategoryNetworkTimeout
		}
		lower := strings.ToLower(statusErr.Body)
		if strings.Contains(lower, "content policy") || strings.Contains(lower, "safety") {
			return CategoryContentPolicy
		}
		if strings.Contains(lower, "context length") || strings.Contains(lower, "token limit") || strings.Contains(lower, "maximum context") {
			return CategoryTokenLimit
		}
		return CategoryInvalidResponse
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryNetworkTimeout
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CategoryJSONParse
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "content policy") || strings.Contains(lower, "safety system"):
		return CategoryContentPolicy
	case strings.Contains(lower, "context length") || strings.Contains(lower, "token limit"):
		return CategoryTokenLimit
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return CategoryRateLimit
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "unexpected eof"):
		return CategoryNetworkTimeout
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "permission denied"):
		return CategoryInfraAuth
	}

	return CategoryUnknown
}

// Retryable reports whether another attempt may ever succeed for the
// category, before attempt counting is applied.
func Retryable(category Category) bool {
	return category.Policy().MaxAttempts > 0
}
