package embed

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	opts := normalizeOptions(Options{})
	if opts.BatchSize != defaultBatchSize {
		t.Fatalf("BatchSize = %d, want %d", opts.BatchSize, defaultBatchSize)
	}
	if opts.Timeout != defaultTimeout {
		t.Fatalf("Timeout = %v, want %v", opts.Timeout, defaultTimeout)
	}
	if opts.Dimension != 768 {
		t.Fatalf("Dimension = %d, want 768", opts.Dimension)
	}

	in := Options{Endpoint: "http://embed:8844/embed", BatchSize: 16, Timeout: time.Second, Dimension: 1024}
	if got := normalizeOptions(in); got != in {
		t.Fatalf("normalizeOptions(%+v) = %+v, want unchanged", in, got)
	}
}

func TestEmbeddingInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		article pendingArticle
		want    string
	}{
		{
			name:    "title and excerpt",
			article: pendingArticle{Title: "Headline", Excerpt: "Lead paragraph."},
			want:    "Headline\n\nLead paragraph.",
		},
		{
			name:    "title only",
			article: pendingArticle{Title: "  Headline  "},
			want:    "Headline",
		},
		{
			name:    "excerpt only",
			article: pendingArticle{Excerpt: "Lead paragraph."},
			want:    "Lead paragraph.",
		},
		{
			name:    "empty",
			article: pendingArticle{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := embeddingInput(tt.article); got != tt.want {
				t.Fatalf("embeddingInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbedResponseShapes(t *testing.T) {
	t.Parallel()

	t.Run("bare embeddings array", func(t *testing.T) {
		t.Parallel()

		var parsed embedResponse
		if err := json.Unmarshal([]byte(`{"embeddings": [[0.1, 0.2], [0.3, 0.4]]}`), &parsed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(parsed.Embeddings) != 2 {
			t.Fatalf("Embeddings = %v, want 2 vectors", parsed.Embeddings)
		}
	})

	t.Run("openai data rows sort by index", func(t *testing.T) {
		t.Parallel()

		var parsed embedResponse
		raw := `{"data": [
			{"index": 1, "embedding": [0.3, 0.4]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		// Mirror the ordering logic used after decoding.
		if parsed.Data[0].Index != 1 {
			t.Fatalf("fixture order broken: %+v", parsed.Data)
		}
		vectors := make([][]float32, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors[row.Index] = row.Embedding
		}
		want := [][]float32{{0.1, 0.2}, {0.3, 0.4}}
		if !reflect.DeepEqual(vectors, want) {
			t.Fatalf("vectors = %v, want %v", vectors, want)
		}
	})
}
