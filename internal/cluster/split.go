package cluster

import (
	"context"
	"fmt"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/jobs"
	"horse.fit/weave/internal/similarity"
)

// SplitResult reports one coherence check.
type SplitResult struct {
	StoryID   int64
	Sampled   int
	Coherence float64
	Split     bool
	Moved     int
}

type linkedArticle struct {
	ArticleID int64
	Embedding []float32
}

// CheckSplit measures a story's internal coherence and, when it has
// drifted into two distinct events, keeps the dominant subgroup and sends
// the rest back through clustering as fresh arrivals.
func (s *Service) CheckSplit(ctx context.Context, storyID int64, thresholdOverride *float64) (SplitResult, error) {
	result := SplitResult{StoryID: storyID}

	threshold := s.splitThreshold
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	linked, err := s.loadLinkedEmbeddings(ctx, storyID)
	if err != nil {
		return result, err
	}
	if len(linked) < 4 {
		// Too small to partition; a 2-3 article story that looks
		// incoherent is corrected by recompute, not split.
		return result, nil
	}

	sample := linked
	if s.splitSampleLimit > 0 && len(sample) > s.splitSampleLimit {
		sample = sample[:s.splitSampleLimit]
	}
	result.Sampled = len(sample)

	embeddings := make([][]float32, len(sample))
	for i, article := range sample {
		embeddings[i] = article.Embedding
	}
	result.Coherence = similarity.Coherence(embeddings)
	if result.Coherence >= threshold {
		s.logger.Debug().
			Int64("story_id", storyID).
			Float64("coherence", result.Coherence).
			Msg("story coherent, no split")
		return result, nil
	}

	all := make([][]float32, len(linked))
	for i, article := range linked {
		all[i] = article.Embedding
	}
	keep, move := PartitionTwoSeeds(all)
	if len(move) == 0 {
		return result, nil
	}

	movedIDs := make([]int64, 0, len(move))
	for _, idx := range move {
		movedIDs = append(movedIDs, linked[idx].ArticleID)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin split tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, articleID := range movedIDs {
		if _, err := tx.Exec(ctx, `
DELETE FROM news.story_articles WHERE story_id = $1 AND article_id = $2
`, storyID, articleID); err != nil {
			return result, fmt.Errorf("unlink article %d from story %d: %w", articleID, storyID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit split tx: %w", err)
	}

	result.Split = true
	result.Moved = len(movedIDs)

	if _, err := s.RecomputeStory(ctx, storyID); err != nil {
		return result, fmt.Errorf("recompute after split: %w", err)
	}

	for _, articleID := range movedIDs {
		if s.queue == nil {
			break
		}
		_, _, err := s.queue.Enqueue(ctx, jobs.ClusterArticlePayload{ArticleID: articleID}, jobs.EnqueueOptions{
			DedupeKey: fmt.Sprintf("split:%d:%d", storyID, articleID),
		})
		if err != nil {
			s.logger.Error().Err(err).
				Int64("story_id", storyID).
				Int64("article_id", articleID).
				Msg("enqueue recluster after split failed")
		}
	}

	s.logger.Info().
		Int64("story_id", storyID).
		Float64("coherence", result.Coherence).
		Int("kept", len(keep)).
		Int("moved", len(movedIDs)).
		Msg("story split")

	return result, nil
}

func (s *Service) loadLinkedEmbeddings(ctx context.Context, storyID int64) ([]linkedArticle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT a.article_id, a.embedding::text
FROM news.story_articles sa
JOIN news.articles a ON a.article_id = sa.article_id
WHERE sa.story_id = $1
  AND a.embedding IS NOT NULL
ORDER BY a.published_at DESC NULLS LAST, a.article_id DESC
`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load embeddings for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var linked []linkedArticle
	for rows.Next() {
		var article linkedArticle
		var raw string
		if err := rows.Scan(&article.ArticleID, &raw); err != nil {
			return nil, fmt.Errorf("scan linked embedding: %w", err)
		}
		embedding, err := similarity.ParseVectorLiteral(raw)
		if err != nil {
			return nil, fmt.Errorf("parse embedding for article %d: %w", article.ArticleID, err)
		}
		article.Embedding = embedding
		linked = append(linked, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings for story %d: %w", storyID, err)
	}
	return linked, nil
}

// PartitionTwoSeeds splits embeddings into two groups seeded by the least
// similar pair, assigning every vector to its nearer seed. The first
// return value is the larger group, which the story keeps. Output indices
// are ascending, so the partition is deterministic for a given input
// order.
func PartitionTwoSeeds(embeddings [][]float32) (keep, move []int) {
	n := len(embeddings)
	if n < 2 {
		keep = make([]int, n)
		for i := range keep {
			keep[i] = i
		}
		return keep, nil
	}

	seedA, seedB := 0, 1
	lowest := similarity.Cosine(embeddings[0], embeddings[1])
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sim := similarity.Cosine(embeddings[i], embeddings[j]); sim < lowest {
				lowest = sim
				seedA, seedB = i, j
			}
		}
	}

	var groupA, groupB []int
	for i := 0; i < n; i++ {
		simA := similarity.Cosine(embeddings[i], embeddings[seedA])
		simB := similarity.Cosine(embeddings[i], embeddings[seedB])
		if simA >= simB {
			groupA = append(groupA, i)
		} else {
			groupB = append(groupB, i)
		}
	}

	if len(groupB) > len(groupA) {
		return groupB, groupA
	}
	return groupA, groupB
}
