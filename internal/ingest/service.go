// Package ingest pulls RSS and Atom feeds, normalizes their items into
// article rows, and hands new articles to the embedding queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/jobs"
	"horse.fit/weave/internal/langdetect"
	"horse.fit/weave/internal/language"
	"horse.fit/weave/internal/reader"
)

const (
	defaultFetchTimeout = 12 * time.Second
	defaultMaxItems     = 100

	// Feed summaries shorter than this get a readability pass against the
	// article page; anything longer already carries enough text to embed.
	thinExcerptChars = 280

	excerptMaxChars = 2000
)

type Options struct {
	UserAgent    string
	FetchTimeout time.Duration
	MaxItems     int
}

func normalizeIngestOptions(opts Options) Options {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = defaultMaxItems
	}
	return opts
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	queue  *jobs.Queue
	parser *gofeed.Parser
	opts   Options
}

func NewService(pool *db.Pool, logger zerolog.Logger, queue *jobs.Queue, cfg *config.Config) *Service {
	opts := Options{}
	if cfg != nil {
		opts = Options{
			UserAgent:    cfg.FeedUserAgent,
			FetchTimeout: cfg.FeedFetchTimeout,
		}
	}
	opts = normalizeIngestOptions(opts)

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: opts.FetchTimeout}
	if opts.UserAgent != "" {
		parser.UserAgent = opts.UserAgent
	}

	return &Service{
		pool:   pool,
		logger: logger.With().Str("component", "ingest").Logger(),
		queue:  queue,
		parser: parser,
		opts:   opts,
	}
}

// FetchResult counts one feed pass. Duplicates are items whose canonical
// URL hash already exists.
type FetchResult struct {
	Items      int
	Inserted   int
	Duplicates int
	Enqueued   int
	Failed     int
}

// FetchFeed pulls one feed and inserts every new item as an article row.
// Each inserted article gets an embedding job with a per-article dedupe
// key, so refetching a feed never double-embeds.
func (s *Service) FetchFeed(ctx context.Context, feedURL, source string) (FetchResult, error) {
	var result FetchResult

	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return result, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := feed.Items
	if len(items) > s.opts.MaxItems {
		items = items[:s.opts.MaxItems]
	}
	result.Items = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		inserted, enqueued, err := s.ingestItem(ctx, item, feedURL, source, feed.Language)
		if err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("feed_url", feedURL).Str("item", item.Link).Msg("feed item skipped")
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
		if enqueued {
			result.Enqueued++
		}
	}

	s.logger.Info().
		Str("feed_url", feedURL).
		Str("source", source).
		Int("items", result.Items).
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Msg("feed pass complete")

	return result, nil
}

func (s *Service) ingestItem(ctx context.Context, item *gofeed.Item, feedURL, source, feedLanguage string) (inserted, enqueued bool, err error) {
	title := reader.CleanText(StripHTML(item.Title))
	if title == "" {
		return false, false, fmt.Errorf("item has no title")
	}

	canonical, host := NormalizeURL(item.Link)
	if canonical == "" {
		return false, false, fmt.Errorf("item %q has no canonical URL", title)
	}

	rawContent := item.Content
	if rawContent == "" {
		rawContent = item.Description
	}
	excerpt := reader.CleanText(StripHTML(rawContent))

	if len([]rune(excerpt)) < thinExcerptChars {
		text, fetchErr := reader.FetchTextWithOptions(ctx, canonical, title, reader.FetchOptions{
			Timeout:   s.opts.FetchTimeout,
			UserAgent: s.opts.UserAgent,
		})
		if fetchErr != nil {
			s.logger.Debug().Err(fetchErr).Str("url", canonical).Msg("readability fetch failed, keeping feed summary")
		} else if len([]rune(text)) > len([]rune(excerpt)) {
			excerpt = text
		}
	}
	excerpt, _ = reader.TruncateText(excerpt, excerptMaxChars)

	// Detection over the actual text wins; the feed-declared tag is only a
	// fallback because feeds routinely mislabel syndicated content.
	lang := langdetect.DetectISO6391(title + " " + excerpt)
	if lang == "" {
		lang = language.NormalizeTag(feedLanguage)
	}
	if lang == "" {
		lang = "und"
	}

	artifacts := ExtractArtifactURLs(rawContent, 8)
	quotes := ExtractQuoteHashes(excerpt, 8)
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return false, false, fmt.Errorf("marshal artifact urls: %w", err)
	}
	if artifacts == nil {
		artifactsJSON = []byte("[]")
	}
	quotesJSON, err := json.Marshal(quotes)
	if err != nil {
		return false, false, fmt.Errorf("marshal quote hashes: %w", err)
	}
	if quotes == nil {
		quotesJSON = []byte("[]")
	}

	var publishedAt *time.Time
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		publishedAt = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		publishedAt = &t
	}

	var topicSlug *string
	if slug := DeriveTopicSlug(title); slug != "" {
		topicSlug = &slug
	}

	now := globaltime.UTC()
	tier := InferSourceTier(source, feedURL, host)

	var articleID int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO news.articles (
    canonical_url, url_hash, title, source, source_domain, source_tier,
    language, published_at, fetched_at, excerpt, topic_slug,
    artifact_urls, quote_hashes, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $9, $9)
ON CONFLICT (url_hash) DO NOTHING
RETURNING article_id
`, canonical, URLHash(canonical), title, source, host, tier,
		lang, publishedAt, now, excerpt, topicSlug,
		string(artifactsJSON), string(quotesJSON)).Scan(&articleID)
	if err != nil {
		if db.IsNoRows(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("insert article %s: %w", canonical, err)
	}

	if s.queue != nil {
		_, _, err = s.queue.Enqueue(ctx, jobs.EmbedArticlePayload{ArticleID: articleID}, jobs.EnqueueOptions{
			DedupeKey: fmt.Sprintf("embed:%d", articleID),
		})
		if err != nil {
			return true, false, fmt.Errorf("enqueue embedding for article %d: %w", articleID, err)
		}
		enqueued = true
	}

	return true, enqueued, nil
}
