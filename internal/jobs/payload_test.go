package jobs

import (
	"encoding/json"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		jobType string
		raw     string
		check   func(t *testing.T, payload Payload)
		wantErr bool
	}{
		{
			name:    "cluster article",
			jobType: TypeClusterArticle,
			raw:     `{"article_id": 42}`,
			check: func(t *testing.T, payload Payload) {
				p, ok := payload.(ClusterArticlePayload)
				if !ok {
					t.Fatalf("payload type = %T, want ClusterArticlePayload", payload)
				}
				if p.ArticleID != 42 {
					t.Fatalf("ArticleID = %d, want 42", p.ArticleID)
				}
			},
		},
		{
			name:    "fetch feed",
			jobType: TypeFetchFeed,
			raw:     `{"feed_url": "https://example.com/rss", "source": "Example Wire"}`,
			check: func(t *testing.T, payload Payload) {
				p := payload.(FetchFeedPayload)
				if p.FeedURL != "https://example.com/rss" || p.Source != "Example Wire" {
					t.Fatalf("unexpected payload %+v", p)
				}
			},
		},
		{
			name:    "lifecycle takes empty payload",
			jobType: TypeUpdateLifecycle,
			raw:     ``,
			check: func(t *testing.T, payload Payload) {
				if _, ok := payload.(UpdateLifecyclePayload); !ok {
					t.Fatalf("payload type = %T, want UpdateLifecyclePayload", payload)
				}
			},
		},
		{
			name:    "split check with optional threshold",
			jobType: TypeSplitCheck,
			raw:     `{"story_id": 9, "threshold": 0.45}`,
			check: func(t *testing.T, payload Payload) {
				p := payload.(SplitCheckPayload)
				if p.StoryID != 9 {
					t.Fatalf("StoryID = %d, want 9", p.StoryID)
				}
				if p.Threshold == nil || *p.Threshold != 0.45 {
					t.Fatalf("Threshold = %v, want 0.45", p.Threshold)
				}
			},
		},
		{
			name:    "merge detect defaults",
			jobType: TypeMergeDetect,
			raw:     `{}`,
			check: func(t *testing.T, payload Payload) {
				p := payload.(MergeDetectPayload)
				if p.Limit != nil || p.Threshold != nil {
					t.Fatalf("unexpected overrides %+v", p)
				}
			},
		},
		{
			name:    "missing required field",
			jobType: TypeClusterArticle,
			raw:     `{}`,
			wantErr: true,
		},
		{
			name:    "wrong field type",
			jobType: TypeClusterArticle,
			raw:     `{"article_id": "42"}`,
			wantErr: true,
		},
		{
			name:    "unexpected field rejected",
			jobType: TypeEnrichStory,
			raw:     `{"story_id": 3, "mode": "full"}`,
			wantErr: true,
		},
		{
			name:    "trailing content rejected",
			jobType: TypeClusterArticle,
			raw:     `{"article_id": 1}{"article_id": 2}`,
			wantErr: true,
		},
		{
			name:    "unhandled job type",
			jobType: "compact_segments",
			raw:     `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, err := DecodePayload(tt.jobType, json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodePayload(%s, %s) = %+v, want error", tt.jobType, tt.raw, payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload(%s, %s) error: %v", tt.jobType, tt.raw, err)
			}
			if payload.JobType() != tt.jobType {
				t.Fatalf("JobType() = %q, want %q", payload.JobType(), tt.jobType)
			}
			tt.check(t, payload)
		})
	}
}

func TestPayloadRoundTripKeepsType(t *testing.T) {
	t.Parallel()

	payloads := []Payload{
		FetchFeedPayload{FeedURL: "https://example.com/rss", Source: "Example"},
		ClusterArticlePayload{ArticleID: 7},
		ClusterBatchPayload{Limit: 50},
		EnrichStoryPayload{StoryID: 3},
		UpdateLifecyclePayload{},
		EmbedArticlePayload{ArticleID: 11},
	}

	for _, payload := range payloads {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s: %v", payload.JobType(), err)
		}
		decoded, err := DecodePayload(payload.JobType(), raw)
		if err != nil {
			t.Fatalf("decode %s (%s): %v", payload.JobType(), raw, err)
		}
		if decoded.JobType() != payload.JobType() {
			t.Fatalf("round trip changed type: %q vs %q", decoded.JobType(), payload.JobType())
		}
	}
}
