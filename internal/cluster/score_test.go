package cluster

import (
	"math"
	"reflect"
	"testing"
	"time"
)

var scoreBase = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func strongArticle() ArticleSignals {
	return ArticleSignals{
		ArticleID:   101,
		Title:       "Doe pardons longtime ally in sweeping order",
		Source:      "Reuters",
		SourceTier:  "default",
		PublishedAt: scoreBase,
		TopicSlug:   "DOE-PARDON",
		Entities: []Entity{
			{ID: "PERSON-JOHN-DOE", Name: "John Doe", Type: "person", Confidence: 0.95},
			{ID: "ORG-JUSTICE-DEPT", Name: "Justice Department", Type: "org", Confidence: 0.8},
		},
		Embedding: []float32{1, 0, 0},
	}
}

func strongStory() StoryState {
	return StoryState{
		StoryID:       7,
		Headline:      "Doe pardons longtime ally in sweeping order",
		PrimaryActor:  "PERSON-JOHN-DOE",
		TopicSlug:     "DOE-PARDON",
		Status:        StatusGrowing,
		ArticleCount:  5,
		FirstSeenAt:   scoreBase.Add(-30 * time.Hour),
		LastUpdatedAt: scoreBase,
		Centroid:      []float32{1, 0, 0},
		EntityCounter: map[string]int{"PERSON-JOHN-DOE": 4, "ORG-JUSTICE-DEPT": 2},
		TopEntities:   []string{"PERSON-JOHN-DOE", "ORG-JUSTICE-DEPT"},
		Sources:       []string{"AP"},
	}
}

func TestScoreNearDuplicate(t *testing.T) {
	t.Parallel()

	breakdown := Score(strongArticle(), strongStory(), DefaultScoreConfig())

	for name, got := range map[string]float64{
		"embedding": breakdown.Embedding,
		"entities":  breakdown.Entities,
		"title":     breakdown.Title,
		"recency":   breakdown.Recency,
		"slug":      breakdown.Slug,
	} {
		if math.Abs(got-1) > 1e-9 {
			t.Fatalf("%s signal = %v, want 1", name, got)
		}
	}

	if breakdown.SharedEntityCount != 2 {
		t.Fatalf("SharedEntityCount = %d, want 2", breakdown.SharedEntityCount)
	}
	if breakdown.Total < 0.90 {
		t.Fatalf("Total = %v, want >= 0.90", breakdown.Total)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	t.Parallel()

	article := strongArticle()
	story := strongStory()
	cfg := DefaultScoreConfig()

	first := Score(article, story, cfg)
	for i := 0; i < 10; i++ {
		if again := Score(article, story, cfg); !reflect.DeepEqual(again, first) {
			t.Fatalf("score changed between calls: %+v vs %+v", again, first)
		}
	}
}

func TestScoreUnrelatedPair(t *testing.T) {
	t.Parallel()

	article := ArticleSignals{
		ArticleID:   102,
		Title:       "Quarterly chip revenue beats analyst expectations",
		Source:      "Bloomberg",
		PublishedAt: scoreBase,
		Entities:    []Entity{{ID: "ORG-ACME-SEMI", Type: "org"}},
		Embedding:   []float32{0, 1, 0},
	}
	story := strongStory()
	story.LastUpdatedAt = scoreBase.Add(-72 * time.Hour)

	breakdown := Score(article, story, DefaultScoreConfig())
	if breakdown.Total >= 0.30 {
		t.Fatalf("Total = %v, want < 0.30 for unrelated pair", breakdown.Total)
	}
}

func TestSlugSuppression(t *testing.T) {
	t.Parallel()

	t.Run("small story ignores slug", func(t *testing.T) {
		t.Parallel()

		story := strongStory()
		story.ArticleCount = 2

		breakdown := Score(strongArticle(), story, DefaultScoreConfig())
		if !breakdown.SlugSuppressed {
			t.Fatal("SlugSuppressed = false, want true for small story")
		}
		if breakdown.Slug != 0 {
			t.Fatalf("Slug = %v, want 0", breakdown.Slug)
		}
	})

	t.Run("low signal floor ignores slug", func(t *testing.T) {
		t.Parallel()

		article := strongArticle()
		article.Title = "Completely different headline about something else"
		article.Embedding = []float32{0, 1, 0}

		breakdown := Score(article, strongStory(), DefaultScoreConfig())
		if breakdown.Embedding >= 0.60 || breakdown.Title >= 0.50 {
			t.Fatalf("fixture does not trigger the floor: embedding %v title %v", breakdown.Embedding, breakdown.Title)
		}
		if !breakdown.SlugSuppressed {
			t.Fatal("SlugSuppressed = false, want true below the low-signal floor")
		}
		if breakdown.Slug != 0 {
			t.Fatalf("Slug = %v, want 0", breakdown.Slug)
		}
	})

	t.Run("strong signals keep slug", func(t *testing.T) {
		t.Parallel()

		breakdown := Score(strongArticle(), strongStory(), DefaultScoreConfig())
		if breakdown.SlugSuppressed {
			t.Fatal("SlugSuppressed = true, want false for a strong pair")
		}
		if breakdown.Slug <= 0 {
			t.Fatalf("Slug = %v, want > 0", breakdown.Slug)
		}
	})
}

func TestScoreBonuses(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoreConfig()
	baseline := Score(strongArticle(), strongStory(), cfg)
	if baseline.Bonus != 0 {
		t.Fatalf("baseline Bonus = %v, want 0", baseline.Bonus)
	}

	t.Run("shared artifact", func(t *testing.T) {
		t.Parallel()

		article := strongArticle()
		article.ArtifactURLs = []string{"https://example.gov/order.pdf"}
		story := strongStory()
		story.ArtifactURLs = []string{"https://example.gov/order.pdf"}

		breakdown := Score(article, story, cfg)
		if !breakdown.SharedArtifact {
			t.Fatal("SharedArtifact = false, want true")
		}
		if math.Abs(breakdown.Bonus-cfg.Bonuses.SharedArtifact) > 1e-9 {
			t.Fatalf("Bonus = %v, want %v", breakdown.Bonus, cfg.Bonuses.SharedArtifact)
		}
	})

	t.Run("quote match", func(t *testing.T) {
		t.Parallel()

		article := strongArticle()
		article.QuoteHashes = []string{"a1b2c3"}
		story := strongStory()
		story.QuoteHashes = []string{"a1b2c3", "d4e5f6"}

		breakdown := Score(article, story, cfg)
		if math.Abs(breakdown.Bonus-cfg.Bonuses.QuoteMatch) > 1e-9 {
			t.Fatalf("Bonus = %v, want %v", breakdown.Bonus, cfg.Bonuses.QuoteMatch)
		}
	})

	t.Run("same outlet within a day", func(t *testing.T) {
		t.Parallel()

		story := strongStory()
		story.Sources = []string{"Reuters"}

		breakdown := Score(strongArticle(), story, cfg)
		if math.Abs(breakdown.Bonus-cfg.Bonuses.SameOutlet) > 1e-9 {
			t.Fatalf("Bonus = %v, want %v", breakdown.Bonus, cfg.Bonuses.SameOutlet)
		}
	})

	t.Run("same outlet outside the window", func(t *testing.T) {
		t.Parallel()

		story := strongStory()
		story.Sources = []string{"Reuters"}
		story.LastUpdatedAt = scoreBase.Add(-30 * time.Hour)

		breakdown := Score(strongArticle(), story, cfg)
		if breakdown.Bonus != 0 {
			t.Fatalf("Bonus = %v, want 0 beyond 24h", breakdown.Bonus)
		}
	})
}

func TestAttachThresholdFor(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoreConfig()

	tests := []struct {
		name         string
		tier         string
		articleCount int
		want         float64
	}{
		{name: "default tier", tier: "default", articleCount: 5, want: 0.75},
		{name: "unknown tier falls back", tier: "mystery", articleCount: 5, want: 0.75},
		{name: "wire lowers", tier: "wire", articleCount: 5, want: 0.68},
		{name: "opinion raises", tier: "opinion", articleCount: 5, want: 0.76},
		{name: "policy", tier: "policy", articleCount: 5, want: 0.72},
		{name: "small story penalty", tier: "default", articleCount: 2, want: 0.77},
		{name: "wire with small story penalty", tier: "wire", articleCount: 1, want: 0.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			article := strongArticle()
			article.SourceTier = tt.tier
			story := strongStory()
			story.ArticleCount = tt.articleCount

			got := AttachThresholdFor(article, story, cfg)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("AttachThresholdFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanReopen(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoreConfig()

	tests := []struct {
		name      string
		breakdown ScoreBreakdown
		want      bool
	}{
		{
			name:      "high score with shared entities",
			breakdown: ScoreBreakdown{Total: 0.85, SharedEntityCount: 2},
			want:      true,
		},
		{
			name:      "high score with shared artifact only",
			breakdown: ScoreBreakdown{Total: 0.82, SharedEntityCount: 0, SharedArtifact: true},
			want:      true,
		},
		{
			name:      "high score without corroboration",
			breakdown: ScoreBreakdown{Total: 0.90, SharedEntityCount: 1},
			want:      false,
		},
		{
			name:      "below reopen threshold",
			breakdown: ScoreBreakdown{Total: 0.79, SharedEntityCount: 4, SharedArtifact: true},
			want:      false,
		},
		{
			name:      "exactly at threshold",
			breakdown: ScoreBreakdown{Total: 0.80, SharedEntityCount: 2},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := CanReopen(tt.breakdown, cfg); got != tt.want {
				t.Fatalf("CanReopen(%+v) = %v, want %v", tt.breakdown, got, tt.want)
			}
		})
	}
}

func TestPrimaryActor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entities []Entity
		want     string
	}{
		{
			name: "highest confidence person wins",
			entities: []Entity{
				{ID: "ORG-ACME", Type: "org", Confidence: 0.99},
				{ID: "PERSON-JANE-ROE", Type: "person", Confidence: 0.7},
				{ID: "PERSON-JOHN-DOE", Type: "person", Confidence: 0.9},
			},
			want: "PERSON-JOHN-DOE",
		},
		{
			name: "org when no person",
			entities: []Entity{
				{ID: "GEO-BRUSSELS", Type: "location", Confidence: 0.9},
				{ID: "ORG-ACME", Type: "org", Confidence: 0.5},
			},
			want: "ORG-ACME",
		},
		{
			name: "stopword person skipped",
			entities: []Entity{
				{ID: "WHITE-HOUSE", Type: "person", Confidence: 0.9},
				{ID: "PERSON-JANE-ROE", Type: "person", Confidence: 0.4},
			},
			want: "PERSON-JANE-ROE",
		},
		{
			name: "fallback to first usable entity",
			entities: []Entity{
				{ID: "CONGRESS", Type: "org"},
				{ID: "GEO-OTTAWA", Type: "location"},
			},
			want: "GEO-OTTAWA",
		},
		{
			name:     "nothing usable",
			entities: []Entity{{ID: "SENATE", Type: "org"}},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := PrimaryActor(tt.entities); got != tt.want {
				t.Fatalf("PrimaryActor() = %q, want %q", got, tt.want)
			}
		})
	}
}
