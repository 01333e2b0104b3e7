// Package enrich generates the neutral summary, category, and severity
// for stories through an external completion endpoint, under the daily
// budget and the per-story failure cap.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/budget"
	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/jobs"
)

var ErrStoryNotFound = errors.New("story not found")

type Service struct {
	pool    *db.Pool
	logger  zerolog.Logger
	budget  *budget.Tracker
	client  *CompletionClient
	retry   jobs.RetryPolicy
	options Options
}

// Options gate when a story is enriched at all.
type Options struct {
	// Cooldown since the last successful enrichment.
	Cooldown time.Duration
	// FailureLimit caps content failures per story; at the cap the story
	// is left un-enriched until a human intervenes.
	FailureLimit int
	// MaxContextArticles bounds the headlines included in the prompt.
	MaxContextArticles int
}

func normalizeOptions(opts Options) Options {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 12 * time.Hour
	}
	if opts.FailureLimit <= 0 {
		opts.FailureLimit = 5
	}
	if opts.MaxContextArticles <= 0 {
		opts.MaxContextArticles = 8
	}
	return opts
}

func NewService(pool *db.Pool, logger zerolog.Logger, tracker *budget.Tracker, cfg *config.Config) *Service {
	opts := Options{}
	var client *CompletionClient
	if cfg != nil {
		opts.Cooldown = time.Duration(cfg.EnrichCooldownHours * float64(time.Hour))
		opts.FailureLimit = cfg.EnrichFailureLimit
		client = NewCompletionClient(cfg.CompletionURL, cfg.CompletionModel, cfg.CompletionAPIKey, cfg.CompletionTimeout)
	}

	return &Service{
		pool:    pool,
		logger:  logger.With().Str("component", "enrich").Logger(),
		budget:  tracker,
		client:  client,
		retry:   jobs.RetryPolicyFrom(cfg),
		options: normalizeOptions(opts),
	}
}

// Result reports one enrichment attempt.
type Result struct {
	StoryID int64
	Skipped bool
	Reason  string
}

type storyContext struct {
	StoryID       int64
	Headline      string
	Status        string
	TopEntities   []string
	EnrichedAt    *time.Time
	LastUpdatedAt time.Time
	FailureCount  int
	Headlines     []string
}

// EnrichStory runs the full pipeline for one story: gate checks, budget
// reservation, completion call, validation, persistence. Content-class
// failures bump the story's failure counter before the error propagates
// to the job layer.
func (s *Service) EnrichStory(ctx context.Context, storyID int64) (Result, error) {
	result := Result{StoryID: storyID}

	story, err := s.loadStoryContext(ctx, storyID)
	if err != nil {
		return result, err
	}

	now := globaltime.UTC()
	if reason, skip := shouldSkip(story, s.options, now); skip {
		result.Skipped = true
		result.Reason = reason
		s.logger.Debug().Int64("story_id", storyID).Str("reason", reason).Msg("enrichment skipped")
		return result, nil
	}

	if s.budget != nil {
		if err := s.budget.Consume(ctx); err != nil {
			if errors.Is(err, budget.ErrDailyBudgetExceeded) {
				return result, jobs.WrapCategory(jobs.CategoryBudgetExceeded, err)
			}
			return result, fmt.Errorf("consume budget: %w", err)
		}
	}

	system, user := BuildPrompt(story)

	var raw json.RawMessage
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = s.client.Complete(ctx, system, user)
		return callErr
	})
	if err != nil {
		return result, s.recordFailure(ctx, storyID, err)
	}

	enrichment, err := ParseEnrichment(raw)
	if err != nil {
		return result, s.recordFailure(ctx, storyID, err)
	}

	if err := s.persist(ctx, storyID, enrichment, globaltime.UTC()); err != nil {
		return result, err
	}

	s.logger.Info().
		Int64("story_id", storyID).
		Str("category", enrichment.SummaryCategory).
		Str("severity", enrichment.Severity).
		Msg("story enriched")

	return result, nil
}

// shouldSkip applies the gate rules in order: terminal status, failure
// cap, cooldown, unchanged story.
func shouldSkip(story storyContext, opts Options, now time.Time) (string, bool) {
	switch story.Status {
	case "merged", "archived":
		return "story is " + story.Status, true
	}
	if story.FailureCount >= opts.FailureLimit {
		return fmt.Sprintf("failure limit reached (%d)", story.FailureCount), true
	}
	if story.EnrichedAt != nil && now.Sub(*story.EnrichedAt) < opts.Cooldown {
		return "within enrichment cooldown", true
	}
	// An attach, reopen, split, or merge bumps last_updated_at; a summary
	// of the same article set would come out identical.
	if story.EnrichedAt != nil && !story.LastUpdatedAt.After(*story.EnrichedAt) {
		return "story unchanged since last enrichment", true
	}
	return "", false
}

func (s *Service) loadStoryContext(ctx context.Context, storyID int64) (storyContext, error) {
	var (
		story   storyContext
		topRaw  []byte
		headRaw []byte
	)

	err := s.pool.QueryRow(ctx, `
SELECT
	st.story_id,
	st.headline,
	st.status,
	st.top_entities,
	st.enriched_at,
	st.last_updated_at,
	st.enrichment_failure_count,
	(SELECT COALESCE(jsonb_agg(t.title), '[]'::jsonb)
	 FROM (
	     SELECT a.title
	     FROM news.story_articles sa
	     JOIN news.articles a ON a.article_id = sa.article_id
	     WHERE sa.story_id = st.story_id
	     ORDER BY a.published_at DESC NULLS LAST
	     LIMIT $2
	 ) t)
FROM news.stories st
WHERE st.story_id = $1
`, storyID, s.options.MaxContextArticles).Scan(
		&story.StoryID,
		&story.Headline,
		&story.Status,
		&topRaw,
		&story.EnrichedAt,
		&story.LastUpdatedAt,
		&story.FailureCount,
		&headRaw,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return storyContext{}, fmt.Errorf("story %d: %w", storyID, ErrStoryNotFound)
		}
		return storyContext{}, fmt.Errorf("load story %d: %w", storyID, err)
	}

	if len(topRaw) > 0 {
		if err := json.Unmarshal(topRaw, &story.TopEntities); err != nil {
			return storyContext{}, fmt.Errorf("parse story %d top entities: %w", storyID, err)
		}
	}
	if len(headRaw) > 0 {
		if err := json.Unmarshal(headRaw, &story.Headlines); err != nil {
			return storyContext{}, fmt.Errorf("parse story %d headlines: %w", storyID, err)
		}
	}
	return story, nil
}

// BuildPrompt renders the deterministic prompt pair for one story.
func BuildPrompt(story storyContext) (system, user string) {
	system = "You summarize news stories. Respond with a single JSON object containing " +
		`"summary_neutral" (2-3 factual sentences, no opinion), ` +
		`"summary_category" (one of politics, business, technology, world, science, health, sports, culture, other), ` +
		`and "severity" (one of low, medium, high, critical).`

	var sb strings.Builder
	sb.WriteString("Story headline: ")
	sb.WriteString(story.Headline)
	sb.WriteString("\n")
	if len(story.TopEntities) > 0 {
		sb.WriteString("Key entities: ")
		sb.WriteString(strings.Join(story.TopEntities, ", "))
		sb.WriteString("\n")
	}
	if len(story.Headlines) > 0 {
		sb.WriteString("Coverage headlines:\n")
		for _, headline := range story.Headlines {
			sb.WriteString("- ")
			sb.WriteString(headline)
			sb.WriteString("\n")
		}
	}
	return system, sb.String()
}

func (s *Service) persist(ctx context.Context, storyID int64, enrichment Enrichment, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE news.stories
SET summary_neutral = $1,
    summary_category = $2,
    severity = $3,
    enriched_at = $4,
    enrichment_failure_count = 0,
    updated_at = $4
WHERE story_id = $5
`, enrichment.SummaryNeutral, enrichment.SummaryCategory, enrichment.Severity, now, storyID)
	if err != nil {
		return fmt.Errorf("persist enrichment for story %d: %w", storyID, err)
	}
	return nil
}

// recordFailure bumps the story's failure counter in a single statement
// when the category blames the story's content; infrastructure failures
// leave the counter alone. The original error always propagates.
func (s *Service) recordFailure(ctx context.Context, storyID int64, cause error) error {
	category := jobs.Classify(cause)
	if !category.Policy().CountsAgainstEntity {
		return cause
	}

	_, err := s.pool.Exec(ctx, `
UPDATE news.stories
SET enrichment_failure_count = enrichment_failure_count + 1,
    updated_at = $1
WHERE story_id = $2
`, globaltime.UTC(), storyID)
	if err != nil {
		s.logger.Error().Err(err).Int64("story_id", storyID).Msg("increment enrichment failure count failed")
	}
	return cause
}
