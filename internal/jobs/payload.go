// Package jobs implements the asynchronous work queue: typed payloads, the
// race-safe polling worker, the failure taxonomy, and the retry policy.
package jobs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Job types form a closed set. DecodePayload matches them exhaustively, so
// a new type without a payload struct fails at decode, not at dispatch.
const (
	TypeFetchFeed       = "fetch_feed"
	TypeClusterArticle  = "cluster_article"
	TypeClusterBatch    = "cluster_batch"
	TypeEnrichStory     = "enrich_story"
	TypeUpdateLifecycle = "update_lifecycle"
	TypeSplitCheck      = "split_check"
	TypeMergeDetect     = "merge_detect"
	TypeEmbedArticle    = "embed_article"
)

// Payload is the tagged union over job payloads.
type Payload interface {
	JobType() string
}

type FetchFeedPayload struct {
	FeedURL string `json:"feed_url"`
	Source  string `json:"source"`
}

func (FetchFeedPayload) JobType() string { return TypeFetchFeed }

type ClusterArticlePayload struct {
	ArticleID int64 `json:"article_id"`
}

func (ClusterArticlePayload) JobType() string { return TypeClusterArticle }

type ClusterBatchPayload struct {
	Limit int `json:"limit"`
}

func (ClusterBatchPayload) JobType() string { return TypeClusterBatch }

type EnrichStoryPayload struct {
	StoryID int64 `json:"story_id"`
}

func (EnrichStoryPayload) JobType() string { return TypeEnrichStory }

type UpdateLifecyclePayload struct{}

func (UpdateLifecyclePayload) JobType() string { return TypeUpdateLifecycle }

type SplitCheckPayload struct {
	StoryID   int64    `json:"story_id"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (SplitCheckPayload) JobType() string { return TypeSplitCheck }

type MergeDetectPayload struct {
	Limit     *int     `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (MergeDetectPayload) JobType() string { return TypeMergeDetect }

type EmbedArticlePayload struct {
	ArticleID int64 `json:"article_id"`
}

func (EmbedArticlePayload) JobType() string { return TypeEmbedArticle }

//go:embed job_payloads.schema.json
var jobPayloadsSchemaJSON string

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func payloadSchema(jobType string) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("job_payloads.schema.json", strings.NewReader(jobPayloadsSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		types := []string{
			TypeFetchFeed,
			TypeClusterArticle,
			TypeClusterBatch,
			TypeEnrichStory,
			TypeUpdateLifecycle,
			TypeSplitCheck,
			TypeMergeDetect,
			TypeEmbedArticle,
		}
		schemas = make(map[string]*jsonschema.Schema, len(types))
		for _, jobType := range types {
			schema, err := compiler.Compile("job_payloads.schema.json#/$defs/" + jobType)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema for %s: %w", jobType, err)
				return
			}
			schemas[jobType] = schema
		}
	})

	if schemaErr != nil {
		return nil, schemaErr
	}
	schema, ok := schemas[jobType]
	if !ok {
		return nil, fmt.Errorf("no payload schema for job type %q", jobType)
	}
	return schema, nil
}

// DecodePayload validates raw JSON against the job type's schema and
// decodes it into the matching payload struct.
func DecodePayload(jobType string, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}

	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := payloadSchema(jobType)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("payload schema validation for %s: %w", jobType, err)
	}

	switch jobType {
	case TypeFetchFeed:
		var p FetchFeedPayload
		return p, json.Unmarshal(raw, &p)
	case TypeClusterArticle:
		var p ClusterArticlePayload
		return p, json.Unmarshal(raw, &p)
	case TypeClusterBatch:
		var p ClusterBatchPayload
		return p, json.Unmarshal(raw, &p)
	case TypeEnrichStory:
		var p EnrichStoryPayload
		return p, json.Unmarshal(raw, &p)
	case TypeUpdateLifecycle:
		var p UpdateLifecyclePayload
		return p, json.Unmarshal(raw, &p)
	case TypeSplitCheck:
		var p SplitCheckPayload
		return p, json.Unmarshal(raw, &p)
	case TypeMergeDetect:
		var p MergeDetectPayload
		return p, json.Unmarshal(raw, &p)
	case TypeEmbedArticle:
		var p EmbedArticlePayload
		return p, json.Unmarshal(raw, &p)
	default:
		return nil, fmt.Errorf("unhandled job type %q", jobType)
	}
}

func decodeStrictJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
