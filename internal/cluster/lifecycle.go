package cluster

import (
	"context"
	"fmt"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/globaltime"
)

// LifecycleBoundaries are the age cut-offs, in hours since the story's
// last update.
type LifecycleBoundaries struct {
	EmergingMaxHours float64
	GrowingMaxHours  float64
	StableMaxHours   float64
}

// DefaultLifecycleBoundaries mirrors the production defaults: emerging
// 0-6h, growing 6-48h, stable 48-120h, stale beyond.
func DefaultLifecycleBoundaries() LifecycleBoundaries {
	return LifecycleBoundaries{
		EmergingMaxHours: 6,
		GrowingMaxHours:  48,
		StableMaxHours:   120,
	}
}

// LifecycleBoundariesFrom maps the application configuration.
func LifecycleBoundariesFrom(cfg *config.Config) LifecycleBoundaries {
	if cfg == nil {
		return DefaultLifecycleBoundaries()
	}
	return LifecycleBoundaries{
		EmergingMaxHours: cfg.LifecycleEmergingMaxHours,
		GrowingMaxHours:  cfg.LifecycleGrowingMaxHours,
		StableMaxHours:   cfg.LifecycleStableMaxHours,
	}
}

// StateForAge maps hours since last update onto a lifecycle state.
// Negative ages (clock skew) are treated as zero.
func StateForAge(ageHours float64, boundaries LifecycleBoundaries) string {
	if ageHours < 0 {
		ageHours = 0
	}
	switch {
	case ageHours <= boundaries.EmergingMaxHours:
		return StatusEmerging
	case ageHours <= boundaries.GrowingMaxHours:
		return StatusGrowing
	case ageHours <= boundaries.StableMaxHours:
		return StatusStable
	default:
		return StatusStale
	}
}

// LifecycleResult counts one batch pass.
type LifecycleResult struct {
	Examined    int
	Transitions int
}

// UpdateLifecycle recomputes every active story's lifecycle state from its
// age in one batch pass. Merged and archived stories are never touched;
// stale is left alone too, since leaving stale requires a reopen or merge.
func (s *Service) UpdateLifecycle(ctx context.Context) (LifecycleResult, error) {
	var result LifecycleResult

	now := globaltime.UTC()
	const query = `
UPDATE news.stories
SET status = CASE
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $2 THEN 'emerging'
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $3 THEN 'growing'
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $4 THEN 'stable'
        ELSE 'stale'
    END,
    updated_at = $1
WHERE status IN ('emerging', 'growing', 'stable')
  AND status IS DISTINCT FROM CASE
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $2 THEN 'emerging'
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $3 THEN 'growing'
        WHEN EXTRACT(EPOCH FROM ($1::timestamptz - last_updated_at)) / 3600.0 <= $4 THEN 'stable'
        ELSE 'stale'
    END
`
	tag, err := s.pool.Exec(ctx, query,
		now,
		s.lifecycle.EmergingMaxHours,
		s.lifecycle.GrowingMaxHours,
		s.lifecycle.StableMaxHours,
	)
	if err != nil {
		return result, fmt.Errorf("batch lifecycle update: %w", err)
	}
	result.Transitions = int(tag.RowsAffected())

	var examined int64
	if err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM news.stories WHERE status NOT IN ('merged', 'archived')
`).Scan(&examined); err != nil {
		return result, fmt.Errorf("count active stories: %w", err)
	}
	result.Examined = int(examined)

	s.logger.Info().
		Int("examined", result.Examined).
		Int("transitions", result.Transitions).
		Msg("lifecycle pass complete")

	return result, nil
}
