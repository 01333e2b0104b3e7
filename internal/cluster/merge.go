package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/similarity"
)

// MergeRule holds the conjunctive eligibility conditions for folding two
// stories together. All four must hold; the bar is deliberately higher
// than the attach threshold because a bad merge is much harder to undo
// than a missed one.
type MergeRule struct {
	CentroidThreshold float64
	SharedEntityMin   int
	WindowDays        float64
}

// MergeCandidate carries the evidence behind an eligible pair.
type MergeCandidate struct {
	Similarity     float64
	SharedEntities []string
}

// Eligible reports whether two stories describe the same event.
func (r MergeRule) Eligible(a, b StoryState) (MergeCandidate, bool) {
	if !a.IsMatchable() || !b.IsMatchable() || a.StoryID == b.StoryID {
		return MergeCandidate{}, false
	}
	if a.PrimaryActor == "" || a.PrimaryActor != b.PrimaryActor {
		return MergeCandidate{}, false
	}

	// The window is measured on first-seen timestamps: two long-running
	// stories can both be touched daily yet describe events days apart.
	aSeen, bSeen := a.FirstSeenAt, b.FirstSeenAt
	if aSeen.IsZero() {
		aSeen = a.LastUpdatedAt
	}
	if bSeen.IsZero() {
		bSeen = b.LastUpdatedAt
	}
	gap := aSeen.Sub(bSeen)
	if gap < 0 {
		gap = -gap
	}
	if gap.Hours() > r.WindowDays*24 {
		return MergeCandidate{}, false
	}

	shared := sharedStrings(a.TopEntities, b.TopEntities)
	if len(shared) < r.SharedEntityMin {
		return MergeCandidate{}, false
	}

	sim := similarity.Cosine(a.Centroid, b.Centroid)
	if sim <= r.CentroidThreshold {
		return MergeCandidate{}, false
	}

	return MergeCandidate{Similarity: sim, SharedEntities: shared}, true
}

// WinnerOf picks the surviving story of an eligible pair. The loser is
// the one with fewer articles, or the older first-seen when counts tie.
func WinnerOf(a, b StoryState) (winner, loser StoryState) {
	if a.ArticleCount != b.ArticleCount {
		if a.ArticleCount > b.ArticleCount {
			return a, b
		}
		return b, a
	}
	if a.FirstSeenAt.Before(b.FirstSeenAt) {
		return b, a
	}
	return a, b
}

func sharedStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, item := range b {
		set[item] = struct{}{}
	}
	var shared []string
	for _, item := range a {
		if _, ok := set[item]; ok {
			shared = append(shared, item)
		}
	}
	sort.Strings(shared)
	return shared
}

// MergeResult counts one detection pass.
type MergeResult struct {
	Scanned int
	Merged  int
}

// DetectMerges scans the most recently active stories for pairs that are
// really the same event and folds each eligible pair into its winner. A
// story absorbed earlier in the pass is skipped for the rest of it, and a
// repeat run over the same data is a no-op because losers leave the
// matchable set.
func (s *Service) DetectMerges(ctx context.Context, limitOverride *int, thresholdOverride *float64) (MergeResult, error) {
	var result MergeResult

	rule := MergeRule{
		CentroidThreshold: s.mergeThreshold,
		SharedEntityMin:   s.mergeSharedEntityMin,
		WindowDays:        s.mergeWindowDays,
	}
	if thresholdOverride != nil {
		rule.CentroidThreshold = *thresholdOverride
	}
	scanLimit := s.mergeScanLimit
	if limitOverride != nil && *limitOverride > 0 {
		scanLimit = *limitOverride
	}

	query := fmt.Sprintf(`
SELECT %s
FROM news.stories s
WHERE s.status NOT IN ('merged', 'archived')
  AND s.centroid IS NOT NULL
ORDER BY s.last_updated_at DESC
LIMIT $1
`, storyStateColumns)

	rows, err := s.pool.Query(ctx, query, scanLimit)
	if err != nil {
		return result, fmt.Errorf("scan stories for merge: %w", err)
	}

	var stories []StoryState
	for rows.Next() {
		state, err := scanStoryState(rows)
		if err != nil {
			rows.Close()
			return result, err
		}
		stories = append(stories, state)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return result, fmt.Errorf("iterate stories for merge: %w", err)
	}

	sortStoriesByRecency(stories)
	result.Scanned = len(stories)

	absorbed := make(map[int64]bool)
	for i := 0; i < len(stories); i++ {
		if absorbed[stories[i].StoryID] {
			continue
		}
		for j := i + 1; j < len(stories); j++ {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if absorbed[stories[i].StoryID] {
				break
			}
			if absorbed[stories[j].StoryID] {
				continue
			}

			candidate, ok := rule.Eligible(stories[i], stories[j])
			if !ok {
				continue
			}

			winner, loser := WinnerOf(stories[i], stories[j])
			if err := s.mergeStories(ctx, winner, loser, candidate); err != nil {
				s.logger.Error().Err(err).
					Int64("winner_story_id", winner.StoryID).
					Int64("loser_story_id", loser.StoryID).
					Msg("merge failed")
				continue
			}
			absorbed[loser.StoryID] = true
			result.Merged++
		}
	}

	return result, nil
}

func (s *Service) mergeStories(ctx context.Context, winner, loser StoryState, candidate MergeCandidate) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both rows in ID order so concurrent merges cannot deadlock,
	// and re-check status under the lock.
	firstID, secondID := winner.StoryID, loser.StoryID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	for _, storyID := range []int64{firstID, secondID} {
		var status string
		if err := tx.QueryRow(ctx, `
SELECT status FROM news.stories WHERE story_id = $1 FOR UPDATE
`, storyID).Scan(&status); err != nil {
			return fmt.Errorf("lock story %d: %w", storyID, err)
		}
		if status == StatusMerged || status == StatusArchived {
			return fmt.Errorf("story %d already %s", storyID, status)
		}
	}

	now := globaltime.UTC()

	tag, err := tx.Exec(ctx, `
UPDATE news.story_articles
SET story_id = $1, is_primary_source = false
WHERE story_id = $2
`, winner.StoryID, loser.StoryID)
	if err != nil {
		return fmt.Errorf("move articles from story %d to %d: %w", loser.StoryID, winner.StoryID, err)
	}
	moved := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `
UPDATE news.stories
SET status = 'merged',
    merged_into_story_id = $1,
    updated_at = $2
WHERE story_id = $3
`, winner.StoryID, now, loser.StoryID); err != nil {
		return fmt.Errorf("mark story %d merged: %w", loser.StoryID, err)
	}

	sharedJSON, err := json.Marshal(candidate.SharedEntities)
	if err != nil {
		return fmt.Errorf("marshal shared entities: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO news.merge_events (winner_story_id, loser_story_id, centroid_similarity, shared_entities, moved_articles, merged_at, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $6)
`, winner.StoryID, loser.StoryID, candidate.Similarity, string(sharedJSON), moved, now); err != nil {
		return fmt.Errorf("insert merge event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}

	if _, err := s.RecomputeStory(ctx, winner.StoryID); err != nil {
		return fmt.Errorf("recompute winner %d: %w", winner.StoryID, err)
	}

	s.logger.Info().
		Int64("winner_story_id", winner.StoryID).
		Int64("loser_story_id", loser.StoryID).
		Float64("similarity", candidate.Similarity).
		Int64("moved_articles", moved).
		Msg("stories merged")

	return nil
}
