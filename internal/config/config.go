package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config enumerates every tunable of the clustering engine. Defaults mirror
// the values the pipeline has been running with in production; override via
// environment variables.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"WEAVE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"WEAVE_DB_MAX_CONNS" default:"8"`

	// Hybrid scorer signal weights. They should sum to 1.0; Validate only
	// checks each is non-negative so operators can experiment.
	WeightEmbedding float64 `envconfig:"SCORE_WEIGHT_EMBEDDING" default:"0.40"`
	WeightEntities  float64 `envconfig:"SCORE_WEIGHT_ENTITIES" default:"0.25"`
	WeightTitle     float64 `envconfig:"SCORE_WEIGHT_TITLE" default:"0.15"`
	WeightRecency   float64 `envconfig:"SCORE_WEIGHT_RECENCY" default:"0.10"`
	WeightSlug      float64 `envconfig:"SCORE_WEIGHT_SLUG" default:"0.05"`
	WeightGeo       float64 `envconfig:"SCORE_WEIGHT_GEO" default:"0.05"`

	BonusSharedArtifact float64 `envconfig:"SCORE_BONUS_SHARED_ARTIFACT" default:"0.06"`
	BonusQuoteMatch     float64 `envconfig:"SCORE_BONUS_QUOTE_MATCH" default:"0.05"`
	BonusSameOutlet     float64 `envconfig:"SCORE_BONUS_SAME_OUTLET" default:"0.04"`

	GuardrailMinEmbedding float64 `envconfig:"SCORE_GUARDRAIL_MIN_EMBEDDING" default:"0.60"`
	GuardrailMinTitle     float64 `envconfig:"SCORE_GUARDRAIL_MIN_TITLE" default:"0.50"`

	TimeDecayHours float64 `envconfig:"SCORE_TIME_DECAY_HOURS" default:"72"`

	AttachThreshold float64 `envconfig:"CLUSTER_ATTACH_THRESHOLD" default:"0.75"`
	ReopenThreshold float64 `envconfig:"CLUSTER_REOPEN_THRESHOLD" default:"0.80"`

	// Per-tier attach overrides. Wire copy is near-identical across outlets,
	// opinion pieces drift, policy coverage sits in between.
	ThresholdWire    float64 `envconfig:"CLUSTER_THRESHOLD_WIRE" default:"0.68"`
	ThresholdOpinion float64 `envconfig:"CLUSTER_THRESHOLD_OPINION" default:"0.76"`
	ThresholdPolicy  float64 `envconfig:"CLUSTER_THRESHOLD_POLICY" default:"0.72"`

	// Stories with fewer linked articles than this have an unstable centroid:
	// slug similarity is ignored and the attach threshold is raised.
	SmallStoryArticleCount int     `envconfig:"CLUSTER_SMALL_STORY_ARTICLES" default:"3"`
	SmallStoryPenalty      float64 `envconfig:"CLUSTER_SMALL_STORY_PENALTY" default:"0.02"`

	CandidateWindowHours  float64 `envconfig:"CANDIDATE_WINDOW_HOURS" default:"72"`
	CandidateForwardHours float64 `envconfig:"CANDIDATE_FORWARD_HOURS" default:"1"`
	CandidateANNLimit     int     `envconfig:"CANDIDATE_ANN_LIMIT" default:"60"`
	CandidateMax          int     `envconfig:"CANDIDATE_MAX" default:"200"`

	EmbeddingDim   int `envconfig:"EMBEDDING_DIM" default:"768"`
	TopEntityCount int `envconfig:"STORY_TOP_ENTITIES" default:"5"`

	LifecycleEmergingMaxHours float64 `envconfig:"LIFECYCLE_EMERGING_MAX_HOURS" default:"6"`
	LifecycleGrowingMaxHours  float64 `envconfig:"LIFECYCLE_GROWING_MAX_HOURS" default:"48"`
	LifecycleStableMaxHours   float64 `envconfig:"LIFECYCLE_STABLE_MAX_HOURS" default:"120"`

	SplitCoherenceThreshold float64 `envconfig:"SPLIT_COHERENCE_THRESHOLD" default:"0.50"`
	SplitSampleLimit        int     `envconfig:"SPLIT_SAMPLE_LIMIT" default:"20"`

	MergeCentroidThreshold float64 `envconfig:"MERGE_CENTROID_THRESHOLD" default:"0.70"`
	MergeSharedEntityMin   int     `envconfig:"MERGE_SHARED_ENTITY_MIN" default:"3"`
	MergeWindowDays        float64 `envconfig:"MERGE_WINDOW_DAYS" default:"5"`
	MergeScanLimit         int     `envconfig:"MERGE_SCAN_LIMIT" default:"100"`

	WorkerPollInterval  time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	WorkerMaxConcurrent int           `envconfig:"WORKER_MAX_CONCURRENT" default:"2"`
	WorkerDispatchDelay time.Duration `envconfig:"WORKER_DISPATCH_DELAY" default:"500ms"`
	WorkerMaxEmptyPolls int           `envconfig:"WORKER_MAX_EMPTY_POLLS" default:"30"`
	WorkerStuckTimeout  time.Duration `envconfig:"WORKER_STUCK_TIMEOUT" default:"10m"`
	// AtomicClaim selects the single-statement claim. The read-then-write
	// fallback races under concurrent workers and exists only for stores
	// without row locking.
	WorkerAtomicClaim bool `envconfig:"WORKER_ATOMIC_CLAIM" default:"true"`

	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBackoffBase time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"2s"`
	RetryJitterMax   time.Duration `envconfig:"RETRY_JITTER_MAX" default:"250ms"`

	DailyBudget int64 `envconfig:"DAILY_BUDGET" default:"200"`

	EnrichCooldownHours float64       `envconfig:"ENRICH_COOLDOWN_HOURS" default:"12"`
	EnrichFailureLimit  int           `envconfig:"ENRICH_FAILURE_LIMIT" default:"5"`
	CompletionURL       string        `envconfig:"COMPLETION_URL" default:""`
	CompletionModel     string        `envconfig:"COMPLETION_MODEL" default:""`
	CompletionAPIKey    string        `envconfig:"COMPLETION_API_KEY" default:""`
	CompletionTimeout   time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"60s"`

	EmbeddingURL       string        `envconfig:"EMBEDDING_URL" default:""`
	EmbeddingModel     string        `envconfig:"EMBEDDING_MODEL" default:""`
	EmbeddingAPIKey    string        `envconfig:"EMBEDDING_API_KEY" default:""`
	EmbeddingTimeout   time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingBatchSize int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"16"`

	FeedUserAgent    string        `envconfig:"FEED_USER_AGENT" default:""`
	FeedFetchTimeout time.Duration `envconfig:"FEED_FETCH_TIMEOUT" default:"12s"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`
	// APIToken, when set, gates every /api/v1 route behind a bearer token.
	APIToken string `envconfig:"API_TOKEN" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("WEAVE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("WEAVE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("WEAVE_DB_MIN_CONNS (%d) cannot exceed WEAVE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	for _, check := range []struct {
		name  string
		value float64
	}{
		{"SCORE_WEIGHT_EMBEDDING", c.WeightEmbedding},
		{"SCORE_WEIGHT_ENTITIES", c.WeightEntities},
		{"SCORE_WEIGHT_TITLE", c.WeightTitle},
		{"SCORE_WEIGHT_RECENCY", c.WeightRecency},
		{"SCORE_WEIGHT_SLUG", c.WeightSlug},
		{"SCORE_WEIGHT_GEO", c.WeightGeo},
	} {
		if check.value < 0 {
			return fmt.Errorf("%s must be >= 0", check.name)
		}
	}

	for _, check := range []struct {
		name  string
		value float64
	}{
		{"CLUSTER_ATTACH_THRESHOLD", c.AttachThreshold},
		{"CLUSTER_REOPEN_THRESHOLD", c.ReopenThreshold},
		{"SPLIT_COHERENCE_THRESHOLD", c.SplitCoherenceThreshold},
		{"MERGE_CENTROID_THRESHOLD", c.MergeCentroidThreshold},
	} {
		if check.value < 0 || check.value > 1 {
			return fmt.Errorf("%s must be within [0,1]", check.name)
		}
	}
	if c.ReopenThreshold < c.AttachThreshold {
		return fmt.Errorf("CLUSTER_REOPEN_THRESHOLD (%.2f) must be >= CLUSTER_ATTACH_THRESHOLD (%.2f)", c.ReopenThreshold, c.AttachThreshold)
	}

	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be >= 1")
	}
	if c.TopEntityCount < 1 {
		return fmt.Errorf("STORY_TOP_ENTITIES must be >= 1")
	}
	if c.CandidateMax < 1 {
		return fmt.Errorf("CANDIDATE_MAX must be >= 1")
	}
	if c.CandidateANNLimit < 0 {
		return fmt.Errorf("CANDIDATE_ANN_LIMIT must be >= 0")
	}

	if !(c.LifecycleEmergingMaxHours < c.LifecycleGrowingMaxHours && c.LifecycleGrowingMaxHours < c.LifecycleStableMaxHours) {
		return fmt.Errorf("lifecycle hour boundaries must be strictly increasing")
	}

	if c.WorkerMaxConcurrent < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENT must be >= 1")
	}
	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	if c.WorkerMaxEmptyPolls < 1 {
		return fmt.Errorf("WORKER_MAX_EMPTY_POLLS must be >= 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.DailyBudget < 0 {
		return fmt.Errorf("DAILY_BUDGET must be >= 0")
	}
	return nil
}
