package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/jobs"
	"horse.fit/weave/internal/similarity"
)

var (
	ErrArticleNotFound    = errors.New("article not found")
	ErrArticleNotEmbedded = errors.New("article has no embedding")
	ErrStoryNotFound      = errors.New("story not found")
)

// Service wires the pure clustering logic to the backing store and the
// job queue.
type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	queue  *jobs.Queue

	score      ScoreConfig
	candidates CandidateConfig
	lifecycle  LifecycleBoundaries

	embeddingDim   int
	topEntityCount int

	splitThreshold   float64
	splitSampleLimit int

	mergeThreshold       float64
	mergeWindowDays      float64
	mergeSharedEntityMin int
	mergeScanLimit       int
}

func NewService(pool *db.Pool, logger zerolog.Logger, queue *jobs.Queue, cfg *config.Config) *Service {
	service := &Service{
		pool:       pool,
		logger:     logger.With().Str("component", "cluster").Logger(),
		queue:      queue,
		score:      ScoreConfigFrom(cfg),
		candidates: DefaultCandidateConfig(),
		lifecycle:  LifecycleBoundariesFrom(cfg),

		embeddingDim:   768,
		topEntityCount: 5,

		splitThreshold:   0.50,
		splitSampleLimit: 20,

		mergeThreshold:       0.70,
		mergeWindowDays:      5,
		mergeSharedEntityMin: 3,
		mergeScanLimit:       100,
	}

	if cfg != nil {
		service.candidates = CandidateConfig{
			WindowHours:      cfg.CandidateWindowHours,
			ForwardHours:     cfg.CandidateForwardHours,
			ANNLimit:         cfg.CandidateANNLimit,
			Max:              cfg.CandidateMax,
			EntityBlockLimit: DefaultCandidateConfig().EntityBlockLimit,
		}
		service.embeddingDim = cfg.EmbeddingDim
		service.topEntityCount = cfg.TopEntityCount
		service.splitThreshold = cfg.SplitCoherenceThreshold
		service.splitSampleLimit = cfg.SplitSampleLimit
		service.mergeThreshold = cfg.MergeCentroidThreshold
		service.mergeWindowDays = cfg.MergeWindowDays
		service.mergeSharedEntityMin = cfg.MergeSharedEntityMin
		service.mergeScanLimit = cfg.MergeScanLimit
	}

	return service
}

// ClusterArticle runs the attach-or-create-or-reopen path for one article.
// Re-processing an already linked article is a no-op reporting the
// existing link, so claim retries stay idempotent.
func (s *Service) ClusterArticle(ctx context.Context, articleID int64) (Decision, error) {
	article, err := s.loadArticleSignals(ctx, articleID)
	if err != nil {
		return Decision{}, err
	}
	if len(article.Embedding) == 0 {
		return Decision{}, fmt.Errorf("article %d: %w", articleID, ErrArticleNotEmbedded)
	}

	if storyID, linked, err := s.linkedStoryID(ctx, articleID); err != nil {
		return Decision{}, err
	} else if linked {
		s.logger.Debug().Int64("article_id", articleID).Int64("story_id", storyID).Msg("article already clustered")
		return Decision{Action: ActionAttach, StoryID: storyID}, nil
	}

	candidates, err := s.candidateStories(ctx, article)
	if err != nil {
		return Decision{}, fmt.Errorf("candidates for article %d: %w", articleID, err)
	}

	decision := Decide(article, candidates, s.score)

	switch decision.Action {
	case ActionCreate:
		storyID, err := s.createStory(ctx, article, decision)
		if err != nil {
			return Decision{}, err
		}
		decision.StoryID = storyID
		s.enqueueEnrichment(ctx, storyID, articleID, "created")
	case ActionAttach, ActionReopen:
		if err := s.attachArticle(ctx, article, &decision); err != nil {
			return Decision{}, err
		}
		if decision.Action == ActionReopen {
			s.enqueueEnrichment(ctx, decision.StoryID, articleID, "reopened")
		}
	}

	s.logger.Info().
		Int64("article_id", articleID).
		Str("decision", string(decision.Action)).
		Int64("story_id", decision.StoryID).
		Float64("score", decision.Breakdown.Total).
		Int("candidates", decision.CandidateCount).
		Msg("article clustered")

	return decision, nil
}

// BatchResult counts one backfill pass.
type BatchResult struct {
	Processed int
	Attached  int
	Created   int
	Reopened  int
	Skipped   int
	Failed    int
}

// ClusterBatch processes up to limit unclustered articles in published
// order, oldest first, so earlier batch members become candidates for
// later ones.
func (s *Service) ClusterBatch(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
SELECT a.article_id
FROM news.articles a
LEFT JOIN news.story_articles sa ON sa.article_id = a.article_id
WHERE sa.article_id IS NULL
  AND a.embedding IS NOT NULL
ORDER BY a.published_at ASC NULLS LAST, a.article_id ASC
LIMIT $1
`, limit)
	if err != nil {
		return result, fmt.Errorf("select unclustered articles: %w", err)
	}

	articleIDs := make([]int64, 0, limit)
	for rows.Next() {
		var articleID int64
		if err := rows.Scan(&articleID); err != nil {
			rows.Close()
			return result, fmt.Errorf("scan article id: %w", err)
		}
		articleIDs = append(articleIDs, articleID)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return result, fmt.Errorf("iterate unclustered articles: %w", err)
	}

	for _, articleID := range articleIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		decision, err := s.ClusterArticle(ctx, articleID)
		result.Processed++
		if err != nil {
			if errors.Is(err, ErrArticleNotEmbedded) || errors.Is(err, ErrArticleNotFound) {
				result.Skipped++
				continue
			}
			result.Failed++
			s.logger.Error().Err(err).Int64("article_id", articleID).Msg("batch clustering failed for article")
			continue
		}

		switch decision.Action {
		case ActionAttach:
			result.Attached++
		case ActionCreate:
			result.Created++
		case ActionReopen:
			result.Reopened++
		}
	}

	return result, nil
}

func (s *Service) loadArticleSignals(ctx context.Context, articleID int64) (ArticleSignals, error) {
	var (
		article      ArticleSignals
		sourceDomain *string
		publishedAt  *time.Time
		fetchedAt    time.Time
		topicSlug    *string
		entitiesRaw  []byte
		artifactsRaw []byte
		quotesRaw    []byte
		embeddingRaw *string
	)

	err := s.pool.QueryRow(ctx, `
SELECT
	a.article_id,
	a.title,
	a.source,
	a.source_domain,
	a.source_tier,
	a.published_at,
	a.fetched_at,
	a.topic_slug,
	a.entities,
	a.artifact_urls,
	a.quote_hashes,
	a.embedding::text
FROM news.articles a
WHERE a.article_id = $1
`, articleID).Scan(
		&article.ArticleID,
		&article.Title,
		&article.Source,
		&sourceDomain,
		&article.SourceTier,
		&publishedAt,
		&fetchedAt,
		&topicSlug,
		&entitiesRaw,
		&artifactsRaw,
		&quotesRaw,
		&embeddingRaw,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return ArticleSignals{}, fmt.Errorf("article %d: %w", articleID, ErrArticleNotFound)
		}
		return ArticleSignals{}, fmt.Errorf("load article %d: %w", articleID, err)
	}

	if sourceDomain != nil {
		article.SourceDomain = *sourceDomain
	}
	// Items with no publish date fall back to fetch time so the recency
	// signal and candidate window still have an anchor.
	article.PublishedAt = fetchedAt
	if publishedAt != nil {
		article.PublishedAt = *publishedAt
	}
	if topicSlug != nil {
		article.TopicSlug = *topicSlug
	}

	if len(entitiesRaw) > 0 {
		if err := json.Unmarshal(entitiesRaw, &article.Entities); err != nil {
			return ArticleSignals{}, fmt.Errorf("parse article %d entities: %w", articleID, err)
		}
	}
	if len(artifactsRaw) > 0 {
		if err := json.Unmarshal(artifactsRaw, &article.ArtifactURLs); err != nil {
			return ArticleSignals{}, fmt.Errorf("parse article %d artifact urls: %w", articleID, err)
		}
	}
	if len(quotesRaw) > 0 {
		if err := json.Unmarshal(quotesRaw, &article.QuoteHashes); err != nil {
			return ArticleSignals{}, fmt.Errorf("parse article %d quote hashes: %w", articleID, err)
		}
	}
	if embeddingRaw != nil && *embeddingRaw != "" {
		embedding, err := similarity.ParseVectorLiteral(*embeddingRaw)
		if err != nil {
			return ArticleSignals{}, fmt.Errorf("parse article %d embedding: %w", articleID, err)
		}
		article.Embedding = embedding
	}

	return article, nil
}

func (s *Service) linkedStoryID(ctx context.Context, articleID int64) (int64, bool, error) {
	var storyID int64
	err := s.pool.QueryRow(ctx, `
SELECT sa.story_id
FROM news.story_articles sa
JOIN news.stories st ON st.story_id = sa.story_id
WHERE sa.article_id = $1
  AND st.status <> 'merged'
`, articleID).Scan(&storyID)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup link for article %d: %w", articleID, err)
	}
	return storyID, true, nil
}

// attachArticle links the article and folds it into the story's centroid
// and counters inside one transaction. The story row is locked first so
// concurrent attaches serialize on the incremental update.
func (s *Service) attachArticle(ctx context.Context, article ArticleSignals, decision *Decision) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin attach tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		centroidRaw  string
		counterRaw   []byte
		articleCount int
		status       string
	)
	err = tx.QueryRow(ctx, `
SELECT COALESCE(centroid::text, ''), entity_counter, article_count, status
FROM news.stories
WHERE story_id = $1
FOR UPDATE
`, decision.StoryID).Scan(&centroidRaw, &counterRaw, &articleCount, &status)
	if err != nil {
		if db.IsNoRows(err) {
			return fmt.Errorf("story %d: %w", decision.StoryID, ErrStoryNotFound)
		}
		return fmt.Errorf("lock story %d: %w", decision.StoryID, err)
	}

	now := globaltime.UTC()
	breakdownJSON, err := json.Marshal(decision.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal score breakdown: %w", err)
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO news.story_articles (story_id, article_id, is_primary_source, match_score, match_breakdown, matched_at)
VALUES ($1, $2, false, $3, $4::jsonb, $5)
ON CONFLICT (article_id) DO NOTHING
`, decision.StoryID, article.ArticleID, decision.Breakdown.Total, string(breakdownJSON), now)
	if err != nil {
		return fmt.Errorf("insert link article %d story %d: %w", article.ArticleID, decision.StoryID, err)
	}
	if tag.RowsAffected() == 0 {
		// Lost a race against another attach of the same article.
		return nil
	}

	var centroid []float32
	if centroidRaw != "" {
		if centroid, err = similarity.ParseVectorLiteral(centroidRaw); err != nil {
			return fmt.Errorf("parse story %d centroid: %w", decision.StoryID, err)
		}
	}
	centroid = UpdateCentroid(centroid, articleCount, article.Embedding)

	counter := map[string]int{}
	if len(counterRaw) > 0 {
		if err := json.Unmarshal(counterRaw, &counter); err != nil {
			return fmt.Errorf("parse story %d entity counter: %w", decision.StoryID, err)
		}
	}
	counter = AddEntities(counter, article.EntityIDs())

	if err := s.updateStoryAggregatesTx(ctx, tx, decision.StoryID, centroid, counter, decision.Action == ActionReopen, now); err != nil {
		return err
	}

	if err := insertClusterEventTx(ctx, tx, article.ArticleID, *decision, breakdownJSON, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attach tx: %w", err)
	}
	return nil
}

func (s *Service) updateStoryAggregatesTx(ctx context.Context, tx db.Tx, storyID int64, centroid []float32, counter map[string]int, reopen bool, now time.Time) error {
	centroidLiteral := ""
	if len(centroid) > 0 {
		literal, err := similarity.VectorLiteral(centroid, s.embeddingDim)
		if err != nil {
			return fmt.Errorf("story %d centroid literal: %w", storyID, err)
		}
		centroidLiteral = literal
	}

	counterJSON, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("marshal story %d entity counter: %w", storyID, err)
	}
	topJSON, err := json.Marshal(TopEntityIDs(counter, s.topEntityCount))
	if err != nil {
		return fmt.Errorf("marshal story %d top entities: %w", storyID, err)
	}

	query := `
UPDATE news.stories
SET centroid = NULLIF($1, '')::vector,
    entity_counter = $2::jsonb,
    top_entities = $3::jsonb,
    article_count = (SELECT COUNT(*) FROM news.story_articles WHERE story_id = $4),
    source_count = (
        SELECT COUNT(DISTINCT a.source)
        FROM news.story_articles sa
        JOIN news.articles a ON a.article_id = sa.article_id
        WHERE sa.story_id = $4
    ),
    last_updated_at = $5,
    updated_at = $5
`
	if reopen {
		query += `,
    status = 'growing',
    reopen_count = reopen_count + 1
`
	}
	query += `
WHERE story_id = $4
`

	if _, err := tx.Exec(ctx, query, centroidLiteral, string(counterJSON), string(topJSON), storyID, now); err != nil {
		return fmt.Errorf("update story %d aggregates: %w", storyID, err)
	}
	return nil
}

func (s *Service) createStory(ctx context.Context, article ArticleSignals, decision Decision) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	firstSeen := article.PublishedAt
	if firstSeen.IsZero() {
		firstSeen = now
	}

	centroidLiteral := ""
	if len(article.Embedding) > 0 {
		if centroidLiteral, err = similarity.VectorLiteral(article.Embedding, s.embeddingDim); err != nil {
			return 0, fmt.Errorf("article %d embedding literal: %w", article.ArticleID, err)
		}
	}

	counter := AddEntities(nil, article.EntityIDs())
	counterJSON, err := json.Marshal(counter)
	if err != nil {
		return 0, fmt.Errorf("marshal entity counter: %w", err)
	}
	topJSON, err := json.Marshal(TopEntityIDs(counter, s.topEntityCount))
	if err != nil {
		return 0, fmt.Errorf("marshal top entities: %w", err)
	}

	var storyID int64
	err = tx.QueryRow(ctx, `
INSERT INTO news.stories (
	headline, primary_actor, topic_slug, status, reopen_count,
	first_seen_at, last_updated_at, article_count, source_count,
	centroid, entity_counter, top_entities, created_at, updated_at
)
VALUES (
	$1, NULLIF($2, ''), NULLIF($3, ''), 'emerging', 0,
	$4, $5, 1, 1,
	NULLIF($6, '')::vector, $7::jsonb, $8::jsonb, $5, $5
)
RETURNING story_id
`, article.Title, PrimaryActor(article.Entities), article.TopicSlug,
		firstSeen, now, centroidLiteral, string(counterJSON), string(topJSON)).Scan(&storyID)
	if err != nil {
		return 0, fmt.Errorf("insert story for article %d: %w", article.ArticleID, err)
	}

	breakdownJSON, err := json.Marshal(decision.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("marshal score breakdown: %w", err)
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO news.story_articles (story_id, article_id, is_primary_source, match_score, match_breakdown, matched_at)
VALUES ($1, $2, true, NULL, NULL, $3)
ON CONFLICT (article_id) DO NOTHING
`, storyID, article.ArticleID, now)
	if err != nil {
		return 0, fmt.Errorf("insert primary link article %d: %w", article.ArticleID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("article %d was linked concurrently", article.ArticleID)
	}

	created := decision
	created.StoryID = storyID
	if err := insertClusterEventTx(ctx, tx, article.ArticleID, created, breakdownJSON, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit create tx: %w", err)
	}
	return storyID, nil
}

func insertClusterEventTx(ctx context.Context, tx db.Tx, articleID int64, decision Decision, breakdownJSON []byte, now time.Time) error {
	var bestStory *int64
	if decision.StoryID != 0 {
		bestStory = &decision.StoryID
	}

	_, err := tx.Exec(ctx, `
INSERT INTO news.cluster_events (article_id, decision, story_id, best_score, candidate_count, breakdown, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
`, articleID, string(decision.Action), bestStory, decision.Breakdown.Total, decision.CandidateCount, string(breakdownJSON), now)
	if err != nil {
		return fmt.Errorf("insert cluster event for article %d: %w", articleID, err)
	}
	return nil
}

func (s *Service) enqueueEnrichment(ctx context.Context, storyID, articleID int64, reason string) {
	if s.queue == nil {
		return
	}
	_, _, err := s.queue.Enqueue(ctx, jobs.EnrichStoryPayload{StoryID: storyID}, jobs.EnqueueOptions{
		DedupeKey: fmt.Sprintf("enrich_story:%d:%s:%d", storyID, reason, articleID),
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("story_id", storyID).Msg("enqueue enrichment failed")
	}
}

// PrimaryActor picks the story's leading participant: the
// highest-confidence person entity, then organizations, then any
// non-stopword entity.
func PrimaryActor(entities []Entity) string {
	byType := func(entityType string) string {
		best := ""
		bestConfidence := -1.0
		for _, entity := range entities {
			if !strings.EqualFold(strings.TrimSpace(entity.Type), entityType) {
				continue
			}
			id := strings.ToUpper(strings.TrimSpace(entity.ID))
			if id == "" || isEntityStopword(id) {
				continue
			}
			if entity.Confidence > bestConfidence {
				best = id
				bestConfidence = entity.Confidence
			}
		}
		return best
	}

	if actor := byType("person"); actor != "" {
		return actor
	}
	if actor := byType("org"); actor != "" {
		return actor
	}
	for _, entity := range entities {
		id := strings.ToUpper(strings.TrimSpace(entity.ID))
		if id != "" && !isEntityStopword(id) {
			return id
		}
	}
	return ""
}

// RecomputeResult summarizes one exact recompute.
type RecomputeResult struct {
	StoryID      int64
	ArticleCount int
}

// RecomputeStory rebuilds a story's centroid, entity counter, and top-N
// projection exactly from its currently linked articles, correcting drift
// from repeated incremental averaging and from split removals.
func (s *Service) RecomputeStory(ctx context.Context, storyID int64) (RecomputeResult, error) {
	result := RecomputeResult{StoryID: storyID}

	var exists bool
	if err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM news.stories WHERE story_id = $1)
`, storyID).Scan(&exists); err != nil {
		return result, fmt.Errorf("check story %d: %w", storyID, err)
	}
	if !exists {
		return result, fmt.Errorf("story %d: %w", storyID, ErrStoryNotFound)
	}

	rows, err := s.pool.Query(ctx, `
SELECT COALESCE(a.embedding::text, ''), a.entities
FROM news.story_articles sa
JOIN news.articles a ON a.article_id = sa.article_id
WHERE sa.story_id = $1
ORDER BY sa.article_id
`, storyID)
	if err != nil {
		return result, fmt.Errorf("load linked articles for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var embeddings [][]float32
	var entityLists [][]string
	for rows.Next() {
		var embeddingRaw string
		var entitiesRaw []byte
		if err := rows.Scan(&embeddingRaw, &entitiesRaw); err != nil {
			return result, fmt.Errorf("scan linked article: %w", err)
		}

		if embeddingRaw != "" {
			embedding, err := similarity.ParseVectorLiteral(embeddingRaw)
			if err != nil {
				return result, fmt.Errorf("parse linked embedding: %w", err)
			}
			embeddings = append(embeddings, embedding)
		}

		var entities []Entity
		if len(entitiesRaw) > 0 {
			if err := json.Unmarshal(entitiesRaw, &entities); err != nil {
				return result, fmt.Errorf("parse linked entities: %w", err)
			}
		}
		entityLists = append(entityLists, ArticleSignals{Entities: entities}.EntityIDs())
		result.ArticleCount++
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate linked articles for story %d: %w", storyID, err)
	}

	centroid := MeanCentroid(embeddings)
	counter := CountEntities(entityLists)

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.updateStoryAggregatesTx(ctx, tx, storyID, centroid, counter, false, globaltime.UTC()); err != nil {
		return result, err
	}
	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit recompute tx: %w", err)
	}

	s.logger.Info().Int64("story_id", storyID).Int("articles", result.ArticleCount).Msg("story aggregates recomputed")
	return result, nil
}

// RecomputeAll runs the exact recompute over every active story, oldest
// update first. Used by the nightly correction pass.
func (s *Service) RecomputeAll(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, `
SELECT story_id
FROM news.stories
WHERE status NOT IN ('merged', 'archived')
ORDER BY updated_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return 0, fmt.Errorf("select stories for recompute: %w", err)
	}

	storyIDs := make([]int64, 0, limit)
	for rows.Next() {
		var storyID int64
		if err := rows.Scan(&storyID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan story id: %w", err)
		}
		storyIDs = append(storyIDs, storyID)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, fmt.Errorf("iterate stories for recompute: %w", err)
	}

	done := 0
	for _, storyID := range storyIDs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.RecomputeStory(ctx, storyID); err != nil {
			s.logger.Error().Err(err).Int64("story_id", storyID).Msg("recompute failed")
			continue
		}
		done++
	}
	return done, nil
}

// sortStoriesByRecency orders StoryStates newest update first with a
// deterministic ID tie-break.
func sortStoriesByRecency(stories []StoryState) {
	sort.Slice(stories, func(i, j int) bool {
		if !stories[i].LastUpdatedAt.Equal(stories[j].LastUpdatedAt) {
			return stories[i].LastUpdatedAt.After(stories[j].LastUpdatedAt)
		}
		return stories[i].StoryID < stories[j].StoryID
	})
}
