// Package budget enforces the daily spend cap on paid external calls. The
// counter lives in the backing store and is incremented atomically, so
// workers on separate machines share one budget.
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
)

// ErrDailyBudgetExceeded marks a call denied by the cap. It is not a
// content failure; callers classify it as budget_exceeded.
var ErrDailyBudgetExceeded = errors.New("daily budget exceeded")

type Tracker struct {
	pool   *db.Pool
	logger zerolog.Logger
	cap    int64
}

// NewTracker builds a tracker with the given daily cap; cap 0 disables
// all paid calls.
func NewTracker(pool *db.Pool, logger zerolog.Logger, dailyCap int64) *Tracker {
	return &Tracker{
		pool:   pool,
		logger: logger.With().Str("component", "budget").Logger(),
		cap:    dailyCap,
	}
}

// Consume atomically takes one unit from today's budget. The increment and
// the check happen in a single statement: the RETURNING value is this
// caller's reservation, so two concurrent consumers can never both sneak
// under the cap.
func (t *Tracker) Consume(ctx context.Context) error {
	now := globaltime.UTC()
	day := now.Format("2006-01-02")

	const query = `
INSERT INTO news.budget_counters (day, used, updated_at)
VALUES ($1::date, 1, $2)
ON CONFLICT (day) DO UPDATE
SET used = news.budget_counters.used + 1,
    updated_at = $2
RETURNING used
`

	var used int64
	if err := t.pool.QueryRow(ctx, query, day, now).Scan(&used); err != nil {
		return fmt.Errorf("increment budget counter for %s: %w", day, err)
	}

	if used > t.cap {
		t.logger.Warn().
			Str("day", day).
			Int64("used", used).
			Int64("cap", t.cap).
			Msg("daily budget exhausted")
		return fmt.Errorf("budget %d/%d for %s: %w", used, t.cap, day, ErrDailyBudgetExceeded)
	}
	return nil
}

// UsedToday reads today's counter without consuming.
func (t *Tracker) UsedToday(ctx context.Context) (int64, error) {
	day := globaltime.UTC().Format("2006-01-02")

	var used int64
	err := t.pool.QueryRow(ctx, `
SELECT used FROM news.budget_counters WHERE day = $1::date
`, day).Scan(&used)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read budget counter for %s: %w", day, err)
	}
	return used, nil
}

// Cap returns the configured daily cap.
func (t *Tracker) Cap() int64 { return t.cap }
