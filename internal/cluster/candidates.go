package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/similarity"
)

// CandidateConfig bounds the OR-blocking retrieval.
type CandidateConfig struct {
	WindowHours  float64
	ForwardHours float64
	ANNLimit     int
	Max          int
	// EntityBlockLimit caps both the entity IDs probed and the stories
	// returned per probe.
	EntityBlockLimit int
}

// DefaultCandidateConfig mirrors the production defaults.
func DefaultCandidateConfig() CandidateConfig {
	return CandidateConfig{
		WindowHours:      72,
		ForwardHours:     1,
		ANNLimit:         60,
		Max:              200,
		EntityBlockLimit: 8,
	}
}

const storyStateColumns = `
	s.story_id,
	s.headline,
	COALESCE(s.primary_actor, ''),
	COALESCE(s.topic_slug, ''),
	s.status,
	s.article_count,
	s.first_seen_at,
	s.last_updated_at,
	COALESCE(s.centroid::text, ''),
	s.entity_counter,
	s.top_entities,
	(SELECT COALESCE(jsonb_agg(DISTINCT a.source), '[]'::jsonb)
	 FROM news.story_articles sa
	 JOIN news.articles a ON a.article_id = sa.article_id
	 WHERE sa.story_id = s.story_id),
	(SELECT COALESCE(jsonb_agg(DISTINCT artifact), '[]'::jsonb)
	 FROM news.story_articles sa
	 JOIN news.articles a ON a.article_id = sa.article_id
	 CROSS JOIN LATERAL jsonb_array_elements_text(a.artifact_urls) AS artifact
	 WHERE sa.story_id = s.story_id),
	(SELECT COALESCE(jsonb_agg(DISTINCT quote), '[]'::jsonb)
	 FROM news.story_articles sa
	 JOIN news.articles a ON a.article_id = sa.article_id
	 CROSS JOIN LATERAL jsonb_array_elements_text(a.quote_hashes) AS quote
	 WHERE sa.story_id = s.story_id)
`

// candidateStories retrieves the bounded candidate set for one article via
// the union of four cheap predicates: rolling time window, top-entity
// overlap, centroid nearest neighbours, and exact slug match. An empty
// result is a normal outcome, not an error.
func (s *Service) candidateStories(ctx context.Context, article ArticleSignals) ([]StoryState, error) {
	merged := make(map[int64]StoryState)

	windowStart := article.PublishedAt.Add(-time.Duration(s.candidates.WindowHours * float64(time.Hour)))
	windowEnd := article.PublishedAt.Add(time.Duration(s.candidates.ForwardHours * float64(time.Hour)))

	timeQuery := fmt.Sprintf(`
SELECT %s
FROM news.stories s
WHERE s.status NOT IN ('merged', 'archived')
  AND s.last_updated_at >= $1
  AND s.last_updated_at <= $2
ORDER BY s.last_updated_at DESC
LIMIT $3
`, storyStateColumns)
	if err := s.collectCandidates(ctx, merged, timeQuery, windowStart, windowEnd, s.candidates.Max); err != nil {
		return nil, fmt.Errorf("time window block: %w", err)
	}

	entityIDs := article.EntityIDs()
	if len(entityIDs) > s.candidates.EntityBlockLimit {
		entityIDs = entityIDs[:s.candidates.EntityBlockLimit]
	}
	entityQuery := fmt.Sprintf(`
SELECT %s
FROM news.stories s
WHERE s.status NOT IN ('merged', 'archived')
  AND s.top_entities @> jsonb_build_array($1::text)
ORDER BY s.last_updated_at DESC
LIMIT $2
`, storyStateColumns)
	for _, entityID := range entityIDs {
		if err := s.collectCandidates(ctx, merged, entityQuery, entityID, s.candidates.EntityBlockLimit*4); err != nil {
			return nil, fmt.Errorf("entity block %s: %w", entityID, err)
		}
	}

	if len(article.Embedding) > 0 && s.candidates.ANNLimit > 0 {
		literal, err := similarity.VectorLiteral(article.Embedding, s.embeddingDim)
		if err != nil {
			return nil, fmt.Errorf("article %d embedding: %w", article.ArticleID, err)
		}
		annQuery := fmt.Sprintf(`
SELECT %s
FROM news.stories s
WHERE s.status NOT IN ('merged', 'archived')
  AND s.centroid IS NOT NULL
ORDER BY s.centroid <=> $1::vector
LIMIT $2
`, storyStateColumns)
		if err := s.collectCandidates(ctx, merged, annQuery, literal, s.candidates.ANNLimit); err != nil {
			return nil, fmt.Errorf("ann block: %w", err)
		}
	}

	if article.TopicSlug != "" {
		slugQuery := fmt.Sprintf(`
SELECT %s
FROM news.stories s
WHERE s.status NOT IN ('merged', 'archived')
  AND s.topic_slug = $1
ORDER BY s.last_updated_at DESC
LIMIT $2
`, storyStateColumns)
		if err := s.collectCandidates(ctx, merged, slugQuery, article.TopicSlug, 25); err != nil {
			return nil, fmt.Errorf("slug block: %w", err)
		}
	}

	candidates := make([]StoryState, 0, len(merged))
	for _, state := range merged {
		candidates = append(candidates, state)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastUpdatedAt.Equal(candidates[j].LastUpdatedAt) {
			return candidates[i].LastUpdatedAt.After(candidates[j].LastUpdatedAt)
		}
		return candidates[i].StoryID < candidates[j].StoryID
	})
	if len(candidates) > s.candidates.Max {
		candidates = candidates[:s.candidates.Max]
	}
	return candidates, nil
}

func (s *Service) collectCandidates(ctx context.Context, merged map[int64]StoryState, query string, args ...any) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		state, err := scanStoryState(rows)
		if err != nil {
			return err
		}
		if _, seen := merged[state.StoryID]; seen {
			continue
		}
		merged[state.StoryID] = state
	}
	return rows.Err()
}

func scanStoryState(rows *db.Rows) (StoryState, error) {
	var (
		state       StoryState
		centroidRaw string
		counterRaw  []byte
		topRaw      []byte
		sourcesRaw  []byte
		artifactRaw []byte
		quotesRaw   []byte
	)
	if err := rows.Scan(
		&state.StoryID,
		&state.Headline,
		&state.PrimaryActor,
		&state.TopicSlug,
		&state.Status,
		&state.ArticleCount,
		&state.FirstSeenAt,
		&state.LastUpdatedAt,
		&centroidRaw,
		&counterRaw,
		&topRaw,
		&sourcesRaw,
		&artifactRaw,
		&quotesRaw,
	); err != nil {
		return StoryState{}, fmt.Errorf("scan story state: %w", err)
	}

	if centroidRaw != "" {
		centroid, err := similarity.ParseVectorLiteral(centroidRaw)
		if err != nil {
			return StoryState{}, fmt.Errorf("parse story %d centroid: %w", state.StoryID, err)
		}
		state.Centroid = centroid
	}

	if len(counterRaw) > 0 {
		if err := json.Unmarshal(counterRaw, &state.EntityCounter); err != nil {
			return StoryState{}, fmt.Errorf("parse story %d entity counter: %w", state.StoryID, err)
		}
	}
	for raw, target := range map[*[]byte]*[]string{
		&topRaw:      &state.TopEntities,
		&sourcesRaw:  &state.Sources,
		&artifactRaw: &state.ArtifactURLs,
		&quotesRaw:   &state.QuoteHashes,
	} {
		if len(*raw) == 0 {
			continue
		}
		if err := json.Unmarshal(*raw, target); err != nil {
			return StoryState{}, fmt.Errorf("parse story %d aggregate list: %w", state.StoryID, err)
		}
	}

	return state, nil
}
