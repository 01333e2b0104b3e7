// Package cluster implements the story clustering engine: candidate
// generation, hybrid scoring, centroid maintenance, lifecycle transitions,
// and split/merge correction.
package cluster

import (
	"sort"
	"strings"
	"time"
)

// Lifecycle states. Merged and archived stories are excluded from matching.
const (
	StatusEmerging = "emerging"
	StatusGrowing  = "growing"
	StatusStable   = "stable"
	StatusStale    = "stale"
	StatusMerged   = "merged"
	StatusArchived = "archived"
)

// Entity is one extracted participant of an article, keyed by a canonical
// upper-case ID such as PERSON-JANE-DOE or ORG-ACME.
type Entity struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ArticleSignals carries everything the scorer may read about one article.
type ArticleSignals struct {
	ArticleID    int64
	Title        string
	Source       string
	SourceDomain string
	SourceTier   string
	PublishedAt  time.Time
	TopicSlug    string
	Entities     []Entity
	ArtifactURLs []string
	QuoteHashes  []string
	Embedding    []float32
}

// StoryState is the candidate-side scoring view of a story, including the
// artifact/quote/source aggregates collected from its recent articles.
type StoryState struct {
	StoryID       int64
	Headline      string
	PrimaryActor  string
	TopicSlug     string
	Status        string
	ArticleCount  int
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
	Centroid      []float32
	EntityCounter map[string]int
	TopEntities   []string
	Sources       []string
	ArtifactURLs  []string
	QuoteHashes   []string
}

// entityStopwords are canonical IDs too frequent across the corpus to carry
// matching signal. They are excluded from entity overlap and from candidate
// blocking, never from storage.
var entityStopwords = map[string]struct{}{
	"UNITED-STATES":      {},
	"US-GOVERNMENT":      {},
	"FEDERAL-GOVERNMENT": {},
	"WHITE-HOUSE":        {},
	"CONGRESS":           {},
	"GOVERNMENT":         {},
	"SENATE":             {},
	"HOUSE":              {},
}

func isEntityStopword(id string) bool {
	_, ok := entityStopwords[strings.ToUpper(strings.TrimSpace(id))]
	return ok
}

// EntityIDs returns the article's non-stopword canonical entity IDs,
// deduplicated, preserving first-seen order.
func (a ArticleSignals) EntityIDs() []string {
	seen := make(map[string]struct{}, len(a.Entities))
	ids := make([]string, 0, len(a.Entities))
	for _, entity := range a.Entities {
		id := strings.ToUpper(strings.TrimSpace(entity.ID))
		if id == "" || isEntityStopword(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// GeoEntityIDs returns the subset of entity IDs tagged as geographic.
func (a ArticleSignals) GeoEntityIDs() []string {
	ids := make([]string, 0, 4)
	for _, entity := range a.Entities {
		switch strings.ToLower(strings.TrimSpace(entity.Type)) {
		case "location", "gpe", "country", "state", "city":
			id := strings.ToUpper(strings.TrimSpace(entity.ID))
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// EntityIDs returns the story's non-stopword counter keys.
func (s StoryState) EntityIDs() []string {
	ids := make([]string, 0, len(s.EntityCounter))
	for id := range s.EntityCounter {
		if isEntityStopword(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMatchable reports whether the story may receive new articles at all.
func (s StoryState) IsMatchable() bool {
	switch s.Status {
	case StatusMerged, StatusArchived:
		return false
	default:
		return true
	}
}
