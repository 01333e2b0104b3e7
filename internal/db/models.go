package db

import (
	"encoding/json"
	"time"
)

// Article maps news.articles. Rows are written once by feed ingest and
// mutated only to attach the embedding vector and the topic slug.
type Article struct {
	ArticleID    int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID  string          `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	CanonicalURL string          `gorm:"column:canonical_url;type:text;not null"`
	URLHash      []byte          `gorm:"column:url_hash;type:bytea;not null;unique"`
	Title        string          `gorm:"column:title;type:text;not null"`
	Source       string          `gorm:"column:source;type:text;not null"`
	SourceDomain *string         `gorm:"column:source_domain;type:text"`
	SourceTier   string          `gorm:"column:source_tier;type:text;not null;default:default"`
	Language     string          `gorm:"column:language;type:text;not null;default:und"`
	PublishedAt  *time.Time      `gorm:"column:published_at;type:timestamptz"`
	FetchedAt    time.Time       `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	Excerpt      string          `gorm:"column:excerpt;type:text;not null;default:''"`
	TopicSlug    *string         `gorm:"column:topic_slug;type:text"`
	Entities     json.RawMessage `gorm:"column:entities;type:jsonb;not null;default:'[]'"`
	ArtifactURLs json.RawMessage `gorm:"column:artifact_urls;type:jsonb;not null;default:'[]'"`
	QuoteHashes  json.RawMessage `gorm:"column:quote_hashes;type:jsonb;not null;default:'[]'"`
	Embedding    *string         `gorm:"column:embedding;type:vector(768)"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "news.articles" }

// Story maps news.stories. Never hard-deleted; terminal states are recorded
// in status (merged, archived).
type Story struct {
	StoryID                int64           `gorm:"column:story_id;primaryKey;autoIncrement"`
	StoryUUID              string          `gorm:"column:story_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Headline               string          `gorm:"column:headline;type:text;not null"`
	PrimaryActor           *string         `gorm:"column:primary_actor;type:text"`
	TopicSlug              *string         `gorm:"column:topic_slug;type:text"`
	Status                 string          `gorm:"column:status;type:text;not null;default:emerging"`
	ReopenCount            int             `gorm:"column:reopen_count;type:integer;not null;default:0"`
	FirstSeenAt            time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastUpdatedAt          time.Time       `gorm:"column:last_updated_at;type:timestamptz;not null"`
	ArticleCount           int             `gorm:"column:article_count;type:integer;not null;default:0"`
	SourceCount            int             `gorm:"column:source_count;type:integer;not null;default:0"`
	Centroid               *string         `gorm:"column:centroid;type:vector(768)"`
	EntityCounter          json.RawMessage `gorm:"column:entity_counter;type:jsonb;not null;default:'{}'"`
	TopEntities            json.RawMessage `gorm:"column:top_entities;type:jsonb;not null;default:'[]'"`
	MergedIntoStoryID      *int64          `gorm:"column:merged_into_story_id;type:bigint"`
	SummaryNeutral         *string         `gorm:"column:summary_neutral;type:text"`
	SummaryCategory        *string         `gorm:"column:summary_category;type:text"`
	Severity               *string         `gorm:"column:severity;type:text"`
	EnrichedAt             *time.Time      `gorm:"column:enriched_at;type:timestamptz"`
	EnrichmentFailureCount int             `gorm:"column:enrichment_failure_count;type:integer;not null;default:0"`
	CreatedAt              time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Story) TableName() string { return "news.stories" }

// StoryArticle maps news.story_articles. An article links to at most one
// non-merged story; the unique constraint on article_id enforces it.
type StoryArticle struct {
	StoryID          int64           `gorm:"column:story_id;type:bigint;primaryKey"`
	ArticleID        int64           `gorm:"column:article_id;type:bigint;primaryKey;unique"`
	StoryArticleUUID string          `gorm:"column:story_article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	IsPrimarySource  bool            `gorm:"column:is_primary_source;type:boolean;not null;default:false"`
	MatchScore       *float64        `gorm:"column:match_score;type:double precision"`
	MatchBreakdown   json.RawMessage `gorm:"column:match_breakdown;type:jsonb"`
	MatchedAt        time.Time       `gorm:"column:matched_at;type:timestamptz;not null;default:now()"`
}

func (StoryArticle) TableName() string { return "news.story_articles" }

// Job maps news.jobs.
type Job struct {
	JobID         int64           `gorm:"column:job_id;primaryKey;autoIncrement"`
	JobUUID       string          `gorm:"column:job_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	JobType       string          `gorm:"column:job_type;type:text;not null"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb;not null;default:'{}'"`
	Status        string          `gorm:"column:status;type:text;not null;default:pending"`
	Attempts      int             `gorm:"column:attempts;type:integer;not null;default:0"`
	RunAfter      time.Time       `gorm:"column:run_after;type:timestamptz;not null;default:now()"`
	DedupeKey     *string         `gorm:"column:dedupe_key;type:text;unique"`
	ClaimedBy     *string         `gorm:"column:claimed_by;type:text"`
	ClaimedAt     *time.Time      `gorm:"column:claimed_at;type:timestamptz"`
	FinishedAt    *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	LastError     *string         `gorm:"column:last_error;type:text"`
	ErrorCategory *string         `gorm:"column:error_category;type:text"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Job) TableName() string { return "news.jobs" }

// ClusterEvent maps news.cluster_events, one audit row per clustering
// decision.
type ClusterEvent struct {
	ClusterEventID   int64           `gorm:"column:cluster_event_id;primaryKey;autoIncrement"`
	ClusterEventUUID string          `gorm:"column:cluster_event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ArticleID        int64           `gorm:"column:article_id;type:bigint;not null"`
	Decision         string          `gorm:"column:decision;type:text;not null"`
	StoryID          *int64          `gorm:"column:story_id;type:bigint"`
	BestScore        *float64        `gorm:"column:best_score;type:double precision"`
	CandidateCount   int             `gorm:"column:candidate_count;type:integer;not null;default:0"`
	Breakdown        json.RawMessage `gorm:"column:breakdown;type:jsonb"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ClusterEvent) TableName() string { return "news.cluster_events" }

// MergeEvent maps news.merge_events, the audit trail for story merges.
type MergeEvent struct {
	MergeEventID       int64           `gorm:"column:merge_event_id;primaryKey;autoIncrement"`
	MergeEventUUID     string          `gorm:"column:merge_event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	WinnerStoryID      int64           `gorm:"column:winner_story_id;type:bigint;not null"`
	LoserStoryID       int64           `gorm:"column:loser_story_id;type:bigint;not null"`
	CentroidSimilarity float64         `gorm:"column:centroid_similarity;type:double precision;not null"`
	SharedEntities     json.RawMessage `gorm:"column:shared_entities;type:jsonb;not null;default:'[]'"`
	MovedArticles      int             `gorm:"column:moved_articles;type:integer;not null;default:0"`
	MergedAt           time.Time       `gorm:"column:merged_at;type:timestamptz;not null;default:now()"`
}

func (MergeEvent) TableName() string { return "news.merge_events" }

// BudgetCounter maps news.budget_counters, one row per UTC day.
type BudgetCounter struct {
	Day       time.Time `gorm:"column:day;type:date;primaryKey"`
	Used      int64     `gorm:"column:used;type:bigint;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (BudgetCounter) TableName() string { return "news.budget_counters" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Story{},
		&StoryArticle{},
		&Job{},
		&ClusterEvent{},
		&MergeEvent{},
		&BudgetCounter{},
	}
}
