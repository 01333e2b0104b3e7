package cluster

import (
	"testing"
	"time"
)

func TestDecideAttachesAboveThreshold(t *testing.T) {
	t.Parallel()

	article := strongArticle()
	story := strongStory()

	decision := Decide(article, []StoryState{story}, DefaultScoreConfig())
	if decision.Action != ActionAttach {
		t.Fatalf("Action = %q, want %q", decision.Action, ActionAttach)
	}
	if decision.StoryID != story.StoryID {
		t.Fatalf("StoryID = %d, want %d", decision.StoryID, story.StoryID)
	}
	if decision.CandidateCount != 1 {
		t.Fatalf("CandidateCount = %d, want 1", decision.CandidateCount)
	}
}

func TestDecideCreatesWhenNothingClears(t *testing.T) {
	t.Parallel()

	article := ArticleSignals{
		ArticleID:   201,
		Title:       "Regional transit authority approves fare changes",
		Source:      "Local Times",
		PublishedAt: scoreBase,
		Entities:    []Entity{{ID: "ORG-TRANSIT-AUTH", Type: "org"}},
		Embedding:   []float32{0, 0, 1},
	}

	decision := Decide(article, []StoryState{strongStory()}, DefaultScoreConfig())
	if decision.Action != ActionCreate {
		t.Fatalf("Action = %q, want %q", decision.Action, ActionCreate)
	}
	if decision.StoryID != 0 {
		t.Fatalf("StoryID = %d, want 0 on create", decision.StoryID)
	}
	if decision.BestStoryID != 7 {
		t.Fatalf("BestStoryID = %d, want 7", decision.BestStoryID)
	}
	if decision.BestScore <= 0 {
		t.Fatalf("BestScore = %v, want > 0", decision.BestScore)
	}
}

func TestDecideNoCandidates(t *testing.T) {
	t.Parallel()

	decision := Decide(strongArticle(), nil, DefaultScoreConfig())
	if decision.Action != ActionCreate {
		t.Fatalf("Action = %q, want %q", decision.Action, ActionCreate)
	}
	if decision.CandidateCount != 0 {
		t.Fatalf("CandidateCount = %d, want 0", decision.CandidateCount)
	}
}

func TestDecideStaleStories(t *testing.T) {
	t.Parallel()

	t.Run("reopen with corroboration", func(t *testing.T) {
		t.Parallel()

		story := strongStory()
		story.Status = StatusStale

		decision := Decide(strongArticle(), []StoryState{story}, DefaultScoreConfig())
		if decision.Action != ActionReopen {
			t.Fatalf("Action = %q, want %q", decision.Action, ActionReopen)
		}
		if decision.StoryID != story.StoryID {
			t.Fatalf("StoryID = %d, want %d", decision.StoryID, story.StoryID)
		}
	})

	t.Run("high score alone cannot reopen", func(t *testing.T) {
		t.Parallel()

		article := strongArticle()
		article.Entities = []Entity{{ID: "PERSON-JOHN-DOE", Type: "person", Confidence: 0.95}}

		story := strongStory()
		story.Status = StatusStale
		story.EntityCounter = map[string]int{"PERSON-JOHN-DOE": 4}
		story.TopEntities = []string{"PERSON-JOHN-DOE"}

		decision := Decide(article, []StoryState{story}, DefaultScoreConfig())
		if decision.Breakdown.SharedEntityCount >= 2 {
			t.Fatalf("fixture shares %d entities, want 1", decision.Breakdown.SharedEntityCount)
		}
		if decision.Action != ActionCreate {
			t.Fatalf("Action = %q, want %q when reopen rules fail", decision.Action, ActionCreate)
		}
		if decision.BestScore < 0.80 {
			t.Fatalf("BestScore = %v, want >= 0.80 so the test exercises the corroboration rule", decision.BestScore)
		}
	})
}

func TestDecideSkipsUnmatchable(t *testing.T) {
	t.Parallel()

	story := strongStory()
	story.Status = StatusMerged

	decision := Decide(strongArticle(), []StoryState{story}, DefaultScoreConfig())
	if decision.Action != ActionCreate {
		t.Fatalf("Action = %q, want %q when only candidate is merged", decision.Action, ActionCreate)
	}
}

func TestDecideTieBreaks(t *testing.T) {
	t.Parallel()

	t.Run("equal scores pick lowest story id", func(t *testing.T) {
		t.Parallel()

		storyA := strongStory()
		storyA.StoryID = 9
		storyB := strongStory()
		storyB.StoryID = 3

		decision := Decide(strongArticle(), []StoryState{storyA, storyB}, DefaultScoreConfig())
		if decision.Action != ActionAttach {
			t.Fatalf("Action = %q, want %q", decision.Action, ActionAttach)
		}
		if decision.StoryID != 3 {
			t.Fatalf("StoryID = %d, want 3", decision.StoryID)
		}
	})

	t.Run("equal scores pick most recent story", func(t *testing.T) {
		t.Parallel()

		article := strongArticle()
		article.PublishedAt = scoreBase.Add(time.Hour)

		// Zero the recency weight so the two candidates score exactly
		// equal and only the tie-break separates them.
		cfg := DefaultScoreConfig()
		cfg.Weights.Recency = 0

		older := strongStory()
		older.StoryID = 4
		older.LastUpdatedAt = scoreBase.Add(-2 * time.Hour)
		newer := strongStory()
		newer.StoryID = 8
		newer.LastUpdatedAt = scoreBase

		decision := Decide(article, []StoryState{older, newer}, cfg)
		if decision.Action != ActionAttach {
			t.Fatalf("Action = %q, want %q", decision.Action, ActionAttach)
		}
		if decision.StoryID != 8 {
			t.Fatalf("StoryID = %d, want the more recently updated story 8", decision.StoryID)
		}
	})
}

func TestDecideAttachCountMonotonicInThreshold(t *testing.T) {
	t.Parallel()

	story := strongStory()
	embeddings := [][]float32{
		{1, 0, 0},
		{0.95, 0.31, 0},
		{0.85, 0.53, 0},
		{0.7, 0.71, 0},
		{0.5, 0.87, 0},
		{0.2, 0.98, 0},
		{0, 1, 0},
	}

	attachesAt := func(threshold float64) int {
		cfg := DefaultScoreConfig()
		cfg.AttachThreshold = threshold
		count := 0
		for i, embedding := range embeddings {
			article := strongArticle()
			article.ArticleID = int64(300 + i)
			article.Embedding = embedding
			if Decide(article, []StoryState{story}, cfg).Action == ActionAttach {
				count++
			}
		}
		return count
	}

	prev := attachesAt(0.50)
	if prev == 0 {
		t.Fatal("no attaches at threshold 0.50, fixtures too weak to exercise monotonicity")
	}
	for _, threshold := range []float64{0.60, 0.70, 0.75, 0.80, 0.85, 0.90, 0.95} {
		got := attachesAt(threshold)
		if got > prev {
			t.Fatalf("attaches rose from %d to %d when the threshold moved up to %.2f", prev, got, threshold)
		}
		prev = got
	}
}

func TestDecideConvergesOnSingleStory(t *testing.T) {
	t.Parallel()

	pardonEntities := []Entity{
		{ID: "PERSON-MARA-VOSS", Name: "Mara Voss", Type: "person", Confidence: 0.95},
		{ID: "PERSON-ELI-TREN", Name: "Eli Tren", Type: "person", Confidence: 0.9},
		{ID: "EVENT-PARDON", Name: "pardon", Type: "event", Confidence: 0.85},
	}
	articles := []ArticleSignals{
		{
			ArticleID: 401, Title: "Voss pardons Tren in sweeping order",
			Source: "Reuters", SourceTier: "default",
			PublishedAt: scoreBase, TopicSlug: "VOSS-PARDON-TREN",
			Entities: pardonEntities, Embedding: []float32{1, 0, 0},
		},
		{
			ArticleID: 402, Title: "Voss pardons Tren despite objections",
			Source: "AP", SourceTier: "default",
			PublishedAt: scoreBase.Add(20 * time.Minute), TopicSlug: "VOSS-PARDON-TREN",
			Entities: pardonEntities, Embedding: []float32{0.99, 0.14, 0},
		},
		{
			ArticleID: 403, Title: "Voss pardons Tren, order effective immediately",
			Source: "BBC", SourceTier: "default",
			PublishedAt: scoreBase.Add(45 * time.Minute), TopicSlug: "VOSS-PARDON-TREN",
			Entities: pardonEntities, Embedding: []float32{0.98, 0.2, 0},
		},
		{
			ArticleID: 404, Title: "Reaction builds as Voss pardons Tren",
			Source: "The Guardian", SourceTier: "default",
			PublishedAt: scoreBase.Add(90 * time.Minute), TopicSlug: "VOSS-PARDON-TREN",
			Entities: pardonEntities, Embedding: []float32{0.97, 0.24, 0},
		},
	}

	var stories []StoryState
	for _, article := range articles {
		decision := Decide(article, stories, DefaultScoreConfig())
		switch decision.Action {
		case ActionCreate:
			counter := AddEntities(make(map[string]int), article.EntityIDs())
			stories = append(stories, StoryState{
				StoryID:       int64(len(stories) + 1),
				Headline:      article.Title,
				PrimaryActor:  "PERSON-MARA-VOSS",
				TopicSlug:     article.TopicSlug,
				Status:        StatusEmerging,
				ArticleCount:  1,
				FirstSeenAt:   article.PublishedAt,
				LastUpdatedAt: article.PublishedAt,
				Centroid:      article.Embedding,
				EntityCounter: counter,
				TopEntities:   TopEntityIDs(counter, 5),
				Sources:       []string{article.Source},
			})
		case ActionAttach:
			for i := range stories {
				if stories[i].StoryID != decision.StoryID {
					continue
				}
				story := &stories[i]
				story.Centroid = UpdateCentroid(story.Centroid, story.ArticleCount, article.Embedding)
				story.EntityCounter = AddEntities(story.EntityCounter, article.EntityIDs())
				story.TopEntities = TopEntityIDs(story.EntityCounter, 5)
				story.ArticleCount++
				story.LastUpdatedAt = article.PublishedAt
				story.Sources = append(story.Sources, article.Source)
			}
		default:
			t.Fatalf("article %d produced action %q", article.ArticleID, decision.Action)
		}
	}

	if len(stories) != 1 {
		t.Fatalf("unique stories = %d, want 1 after four reports of the same event", len(stories))
	}
	if stories[0].ArticleCount != 4 {
		t.Fatalf("ArticleCount = %d, want 4", stories[0].ArticleCount)
	}
}

func TestDecidePrefersHigherScore(t *testing.T) {
	t.Parallel()

	weak := strongStory()
	weak.StoryID = 11
	weak.Centroid = []float32{0.7, 0.7, 0}

	strong := strongStory()
	strong.StoryID = 12

	decision := Decide(strongArticle(), []StoryState{weak, strong}, DefaultScoreConfig())
	if decision.Action != ActionAttach {
		t.Fatalf("Action = %q, want %q", decision.Action, ActionAttach)
	}
	if decision.StoryID != 12 {
		t.Fatalf("StoryID = %d, want the higher scoring story 12", decision.StoryID)
	}
}
