package cluster

import (
	"strings"
	"time"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/similarity"
)

// Weights are the relative contributions of each scoring signal.
type Weights struct {
	Embedding float64
	Entities  float64
	Title     float64
	Recency   float64
	Slug      float64
	Geo       float64
}

// Bonuses are additive adjustments applied after the weighted sum.
type Bonuses struct {
	SharedArtifact float64
	QuoteMatch     float64
	SameOutlet     float64
}

// Guardrail is the low-signal floor: when both embedding and title
// similarity fall below their minima, slug overlap is zeroed for the pair.
type Guardrail struct {
	MinEmbedding float64
	MinTitle     float64
}

// ScoreConfig collects every scoring tunable. Scoring is a pure function
// of (article, story, ScoreConfig); nothing else may influence it.
type ScoreConfig struct {
	Weights   Weights
	Bonuses   Bonuses
	Guardrail Guardrail

	TimeDecayHours float64

	AttachThreshold float64
	ReopenThreshold float64
	TierThresholds  map[string]float64

	// Stories with fewer linked articles than SmallStoryArticleCount are
	// scored in strict mode: slug is ignored and the attach threshold is
	// raised by SmallStoryPenalty. A young centroid averaged from one or
	// two embeddings is too noisy to let a slug token tip the decision.
	SmallStoryArticleCount int
	SmallStoryPenalty      float64
}

// DefaultScoreConfig returns the production defaults.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Weights: Weights{
			Embedding: 0.40,
			Entities:  0.25,
			Title:     0.15,
			Recency:   0.10,
			Slug:      0.05,
			Geo:       0.05,
		},
		Bonuses: Bonuses{
			SharedArtifact: 0.06,
			QuoteMatch:     0.05,
			SameOutlet:     0.04,
		},
		Guardrail: Guardrail{
			MinEmbedding: 0.60,
			MinTitle:     0.50,
		},
		TimeDecayHours:  72,
		AttachThreshold: 0.75,
		ReopenThreshold: 0.80,
		TierThresholds: map[string]float64{
			"wire":    0.68,
			"opinion": 0.76,
			"policy":  0.72,
		},
		SmallStoryArticleCount: 3,
		SmallStoryPenalty:      0.02,
	}
}

// ScoreConfigFrom maps the application configuration onto a ScoreConfig.
func ScoreConfigFrom(cfg *config.Config) ScoreConfig {
	if cfg == nil {
		return DefaultScoreConfig()
	}
	return ScoreConfig{
		Weights: Weights{
			Embedding: cfg.WeightEmbedding,
			Entities:  cfg.WeightEntities,
			Title:     cfg.WeightTitle,
			Recency:   cfg.WeightRecency,
			Slug:      cfg.WeightSlug,
			Geo:       cfg.WeightGeo,
		},
		Bonuses: Bonuses{
			SharedArtifact: cfg.BonusSharedArtifact,
			QuoteMatch:     cfg.BonusQuoteMatch,
			SameOutlet:     cfg.BonusSameOutlet,
		},
		Guardrail: Guardrail{
			MinEmbedding: cfg.GuardrailMinEmbedding,
			MinTitle:     cfg.GuardrailMinTitle,
		},
		TimeDecayHours:  cfg.TimeDecayHours,
		AttachThreshold: cfg.AttachThreshold,
		ReopenThreshold: cfg.ReopenThreshold,
		TierThresholds: map[string]float64{
			"wire":    cfg.ThresholdWire,
			"opinion": cfg.ThresholdOpinion,
			"policy":  cfg.ThresholdPolicy,
		},
		SmallStoryArticleCount: cfg.SmallStoryArticleCount,
		SmallStoryPenalty:      cfg.SmallStoryPenalty,
	}
}

// ScoreBreakdown records each signal's contribution next to the total, so
// decisions can be audited after the fact.
type ScoreBreakdown struct {
	Embedding float64 `json:"embedding"`
	Entities  float64 `json:"entities"`
	Title     float64 `json:"title"`
	Recency   float64 `json:"recency"`
	Slug      float64 `json:"slug"`
	Geo       float64 `json:"geo"`
	Bonus     float64 `json:"bonus"`
	Total     float64 `json:"total"`

	SharedEntityCount int  `json:"shared_entity_count"`
	SharedArtifact    bool `json:"shared_artifact"`
	SlugSuppressed    bool `json:"slug_suppressed,omitempty"`
}

// Score computes the hybrid match score between one article and one
// candidate story. Pure: same inputs and config always yield the same
// breakdown.
func Score(article ArticleSignals, story StoryState, cfg ScoreConfig) ScoreBreakdown {
	var breakdown ScoreBreakdown

	if len(article.Embedding) > 0 && len(story.Centroid) > 0 {
		breakdown.Embedding = similarity.NormalizedCosine(article.Embedding, story.Centroid)
	}

	articleEntities := similarity.ToSet(article.EntityIDs())
	storyEntities := similarity.ToSet(story.EntityIDs())
	breakdown.Entities = similarity.Jaccard(articleEntities, storyEntities)
	for id := range articleEntities {
		if _, ok := storyEntities[id]; ok {
			breakdown.SharedEntityCount++
		}
	}

	breakdown.Title = similarity.TitleSimilarity(article.Title, story.Headline)

	gapHours := article.PublishedAt.Sub(story.LastUpdatedAt).Hours()
	breakdown.Recency = similarity.TimeDecay(gapHours, cfg.TimeDecayHours)

	breakdown.Slug = slugSignal(article, story, cfg, &breakdown)

	breakdown.Geo = similarity.OverlapRatio(
		similarity.ToSet(article.GeoEntityIDs()),
		similarity.ToSet(storyGeoIDs(story)),
	)

	breakdown.Bonus = bonusSignal(article, story, cfg, &breakdown)

	weighted := cfg.Weights.Embedding*breakdown.Embedding +
		cfg.Weights.Entities*breakdown.Entities +
		cfg.Weights.Title*breakdown.Title +
		cfg.Weights.Recency*breakdown.Recency +
		cfg.Weights.Slug*breakdown.Slug +
		cfg.Weights.Geo*breakdown.Geo

	breakdown.Total = similarity.Clamp01(weighted + breakdown.Bonus)
	return breakdown
}

func slugSignal(article ArticleSignals, story StoryState, cfg ScoreConfig, breakdown *ScoreBreakdown) float64 {
	if article.TopicSlug == "" || story.TopicSlug == "" {
		return 0
	}
	if story.ArticleCount < cfg.SmallStoryArticleCount {
		breakdown.SlugSuppressed = true
		return 0
	}

	overlap, usable := SlugOverlap(article.TopicSlug, story.TopicSlug)
	if !usable {
		breakdown.SlugSuppressed = true
		return 0
	}

	if breakdown.Embedding < cfg.Guardrail.MinEmbedding && breakdown.Title < cfg.Guardrail.MinTitle {
		breakdown.SlugSuppressed = true
		return 0
	}
	return overlap
}

func bonusSignal(article ArticleSignals, story StoryState, cfg ScoreConfig, breakdown *ScoreBreakdown) float64 {
	var bonus float64

	if intersects(article.ArtifactURLs, story.ArtifactURLs) {
		bonus += cfg.Bonuses.SharedArtifact
		breakdown.SharedArtifact = true
	}
	if intersects(article.QuoteHashes, story.QuoteHashes) {
		bonus += cfg.Bonuses.QuoteMatch
	}
	if sameOutletWithin24h(article, story) {
		bonus += cfg.Bonuses.SameOutlet
	}
	return bonus
}

func sameOutletWithin24h(article ArticleSignals, story StoryState) bool {
	gap := article.PublishedAt.Sub(story.LastUpdatedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > 24*time.Hour {
		return false
	}
	for _, source := range story.Sources {
		if strings.EqualFold(source, article.Source) {
			return true
		}
	}
	return false
}

func storyGeoIDs(story StoryState) []string {
	// The counter does not retain entity types; geographic IDs are
	// recognized by their canonical prefixes.
	ids := make([]string, 0, 4)
	for id := range story.EntityCounter {
		upper := strings.ToUpper(id)
		if strings.HasPrefix(upper, "GEO-") || strings.HasPrefix(upper, "LOC-") || strings.HasPrefix(upper, "GPE-") {
			ids = append(ids, upper)
		}
	}
	return ids
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, value := range a {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	for _, value := range b {
		if _, ok := set[strings.TrimSpace(value)]; ok {
			return true
		}
	}
	return false
}

// AttachThresholdFor resolves the effective attach threshold for a pair:
// the source tier override when configured, raised by the small-story
// penalty while the story's centroid is still young.
func AttachThresholdFor(article ArticleSignals, story StoryState, cfg ScoreConfig) float64 {
	threshold := cfg.AttachThreshold
	if override, ok := cfg.TierThresholds[strings.ToLower(strings.TrimSpace(article.SourceTier))]; ok {
		threshold = override
	}
	if story.ArticleCount < cfg.SmallStoryArticleCount {
		threshold += cfg.SmallStoryPenalty
	}
	return threshold
}

// CanReopen reports whether an article is strong enough to pull a stale
// story back to life: reopen threshold met plus corroboration through
// shared entities or a shared artifact.
func CanReopen(breakdown ScoreBreakdown, cfg ScoreConfig) bool {
	if breakdown.Total < cfg.ReopenThreshold {
		return false
	}
	return breakdown.SharedEntityCount >= 2 || breakdown.SharedArtifact
}
