// Package embed fills in article embeddings from the external embedding
// service and hands embedded articles back to clustering.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/jobs"
	"horse.fit/weave/internal/similarity"
)

const (
	defaultBatchSize = 32
	defaultTimeout   = 45 * time.Second
)

type Options struct {
	Endpoint  string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
	Dimension int
}

func normalizeOptions(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Dimension <= 0 {
		opts.Dimension = 768
	}
	return opts
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	queue  *jobs.Queue
	opts   Options
	http   *http.Client
}

func NewService(pool *db.Pool, logger zerolog.Logger, queue *jobs.Queue, cfg *config.Config) *Service {
	opts := Options{}
	if cfg != nil {
		opts = Options{
			Endpoint:  cfg.EmbeddingURL,
			Model:     cfg.EmbeddingModel,
			APIKey:    cfg.EmbeddingAPIKey,
			BatchSize: cfg.EmbeddingBatchSize,
			Timeout:   cfg.EmbeddingTimeout,
			Dimension: cfg.EmbeddingDim,
		}
	}
	opts = normalizeOptions(opts)

	return &Service{
		pool:   pool,
		logger: logger.With().Str("component", "embed").Logger(),
		queue:  queue,
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
	}
}

// Result counts one backfill pass.
type Result struct {
	Processed int
	Embedded  int
	Skipped   int
}

type pendingArticle struct {
	ArticleID int64
	Title     string
	Excerpt   string
}

// EmbedArticle embeds one article and enqueues it for clustering. Already
// embedded articles are skipped, so retries and duplicate jobs are cheap.
func (s *Service) EmbedArticle(ctx context.Context, articleID int64) (Result, error) {
	var result Result

	var (
		article pendingArticle
		has     bool
	)
	err := s.pool.QueryRow(ctx, `
SELECT article_id, title, COALESCE(excerpt, ''), embedding IS NOT NULL
FROM news.articles
WHERE article_id = $1
`, articleID).Scan(&article.ArticleID, &article.Title, &article.Excerpt, &has)
	if err != nil {
		if db.IsNoRows(err) {
			return result, fmt.Errorf("article %d not found", articleID)
		}
		return result, fmt.Errorf("load article %d: %w", articleID, err)
	}

	result.Processed = 1
	if has {
		result.Skipped = 1
		return result, nil
	}

	vectors, err := s.requestEmbeddings(ctx, []string{embeddingInput(article)})
	if err != nil {
		return result, err
	}
	if len(vectors) != 1 {
		return result, jobs.WrapCategory(jobs.CategoryInvalidResponse,
			fmt.Errorf("embedding count mismatch: requested 1, got %d", len(vectors)))
	}

	if err := s.storeAndEnqueue(ctx, article.ArticleID, vectors[0]); err != nil {
		return result, err
	}
	result.Embedded = 1
	return result, nil
}

// EmbedPending backfills embeddings for up to limit articles in batches,
// oldest article first.
func (s *Service) EmbedPending(ctx context.Context, limit int) (Result, error) {
	var result Result
	if limit <= 0 {
		return result, nil
	}

	for result.Processed < limit {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		batchSize := s.opts.BatchSize
		if remaining := limit - result.Processed; batchSize > remaining {
			batchSize = remaining
		}

		articles, err := s.selectPending(ctx, batchSize)
		if err != nil {
			return result, err
		}
		if len(articles) == 0 {
			break
		}

		texts := make([]string, len(articles))
		for i, article := range articles {
			texts[i] = embeddingInput(article)
		}

		vectors, err := s.requestEmbeddings(ctx, texts)
		if err != nil {
			return result, err
		}
		if len(vectors) != len(articles) {
			return result, jobs.WrapCategory(jobs.CategoryInvalidResponse,
				fmt.Errorf("embedding count mismatch: requested %d, got %d", len(articles), len(vectors)))
		}

		for i, article := range articles {
			result.Processed++
			if err := s.storeAndEnqueue(ctx, article.ArticleID, vectors[i]); err != nil {
				return result, err
			}
			result.Embedded++
		}
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("embedded", result.Embedded).
		Msg("embedding backfill pass complete")

	return result, nil
}

func (s *Service) selectPending(ctx context.Context, limit int) ([]pendingArticle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT article_id, title, COALESCE(excerpt, '')
FROM news.articles
WHERE embedding IS NULL
ORDER BY article_id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("select articles pending embedding: %w", err)
	}
	defer rows.Close()

	articles := make([]pendingArticle, 0, limit)
	for rows.Next() {
		var article pendingArticle
		if err := rows.Scan(&article.ArticleID, &article.Title, &article.Excerpt); err != nil {
			return nil, fmt.Errorf("scan pending article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending articles: %w", err)
	}
	return articles, nil
}

func (s *Service) storeAndEnqueue(ctx context.Context, articleID int64, vector []float32) error {
	literal, err := similarity.VectorLiteral(vector, s.opts.Dimension)
	if err != nil {
		return jobs.WrapCategory(jobs.CategoryInvalidResponse,
			fmt.Errorf("article %d embedding: %w", articleID, err))
	}

	if _, err := s.pool.Exec(ctx, `
UPDATE news.articles
SET embedding = $1::vector,
    updated_at = $2
WHERE article_id = $3
`, literal, globaltime.UTC(), articleID); err != nil {
		return fmt.Errorf("store embedding for article %d: %w", articleID, err)
	}

	if s.queue != nil {
		_, _, err := s.queue.Enqueue(ctx, jobs.ClusterArticlePayload{ArticleID: articleID}, jobs.EnqueueOptions{
			DedupeKey: fmt.Sprintf("cluster:%d:post_embed", articleID),
		})
		if err != nil {
			return fmt.Errorf("enqueue clustering for article %d: %w", articleID, err)
		}
	}
	return nil
}

func embeddingInput(article pendingArticle) string {
	title := strings.TrimSpace(article.Title)
	excerpt := strings.TrimSpace(article.Excerpt)
	switch {
	case excerpt == "":
		return title
	case title == "":
		return excerpt
	default:
		return title + "\n\n" + excerpt
	}
}

type embedRequest struct {
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// requestEmbeddings speaks both the bare {"texts": ...} protocol and the
// OpenAI-compatible {"input": ...} one, keyed off the endpoint path.
func (s *Service) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	payload := embedRequest{Texts: texts}
	if parsed, err := url.Parse(s.opts.Endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts, Model: s.opts.Model}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &jobs.HTTPStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float32, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, jobs.WrapCategory(jobs.CategoryInvalidResponse, fmt.Errorf("embedding response missing vectors"))
	}
	return vectors, nil
}
