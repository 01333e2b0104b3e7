// Package httpapi serves the read-only JSON API over the clustering
// tables: story lists, story detail with linked articles, job queue
// summaries, and aggregate stats.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

var errStoryNotFound = errors.New("story not found")

type Options struct {
	Host            string
	Port            int
	APIToken        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

type storyListFilter struct {
	Status   string
	Query    string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type storyListItem struct {
	StoryID         int64      `json:"story_id"`
	StoryUUID       string     `json:"story_uuid"`
	Headline        string     `json:"headline"`
	PrimaryActor    *string    `json:"primary_actor,omitempty"`
	TopicSlug       *string    `json:"topic_slug,omitempty"`
	Status          string     `json:"status"`
	ReopenCount     int        `json:"reopen_count"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	ArticleCount    int        `json:"article_count"`
	SourceCount     int        `json:"source_count"`
	TopEntities     []string   `json:"top_entities"`
	SummaryNeutral  *string    `json:"summary_neutral,omitempty"`
	SummaryCategory *string    `json:"summary_category,omitempty"`
	Severity        *string    `json:"severity,omitempty"`
	EnrichedAt      *time.Time `json:"enriched_at,omitempty"`
	MergedInto      *int64     `json:"merged_into_story_id,omitempty"`
}

type storyArticleItem struct {
	ArticleID       int64          `json:"article_id"`
	ArticleUUID     string         `json:"article_uuid"`
	Title           string         `json:"title"`
	CanonicalURL    string         `json:"canonical_url"`
	Source          string         `json:"source"`
	SourceTier      string         `json:"source_tier"`
	Language        string         `json:"language"`
	PublishedAt     *time.Time     `json:"published_at,omitempty"`
	IsPrimarySource bool           `json:"is_primary_source"`
	MatchScore      *float64       `json:"match_score,omitempty"`
	MatchBreakdown  map[string]any `json:"match_breakdown,omitempty"`
	MatchedAt       time.Time      `json:"matched_at"`
}

type storyDetail struct {
	Story    storyListItem      `json:"story"`
	Articles []storyArticleItem `json:"articles"`
}

type jobTypeCount struct {
	JobType string `json:"job_type"`
	Status  string `json:"status"`
	Count   int64  `json:"count"`
}

type failedJobItem struct {
	JobID         int64      `json:"job_id"`
	JobType       string     `json:"job_type"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	ErrorCategory *string    `json:"error_category,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

type statsResponse struct {
	Articles         int64            `json:"articles"`
	ArticlesEmbedded int64            `json:"articles_embedded"`
	Stories          int64            `json:"stories"`
	StoriesByStatus  map[string]int64 `json:"stories_by_status"`
	StoryLinks       int64            `json:"story_links"`
	MergeEvents      int64            `json:"merge_events"`
	PendingJobs      int64            `json:"pending_jobs"`
	LastFetchedAt    *time.Time       `json:"last_fetched_at,omitempty"`
	LastStoryUpdated *time.Time       `json:"last_story_updated,omitempty"`
	ClusterDecisions map[string]int64 `json:"cluster_decisions"`
}

type storyDayBucket struct {
	Day        string `json:"day"`
	StoryCount int64  `json:"story_count"`
}

func NewServer(pool *db.Pool, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		logger: logger.With().Str("component", "httpapi").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			APIToken:        strings.TrimSpace(opts.APIToken),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	if s.opts.APIToken != "" {
		api.Use(s.requireToken())
	}
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/story-days", s.handleStoryDays)
	api.GET("/stories", s.handleStories)
	api.GET("/stories/:story_uuid", s.handleStoryDetail)
	api.GET("/jobs", s.handleJobs)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("weave api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("weave api server stopped")
	return nil
}

func (s *Server) requireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return fail(c, http.StatusUnauthorized, "Missing bearer token", nil)
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.opts.APIToken)) != 1 {
				return fail(c, http.StatusUnauthorized, "Invalid token", nil)
			}
			return next(c)
		}
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "weave",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.queryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleStoryDays(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 30, 1, 180)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	items, err := s.queryStoryDays(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query story day buckets failed")
		return internalError(c, "Failed to load story day buckets")
	}

	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func (s *Server) handleStories(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}

	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	filter := storyListFilter{
		Status:   strings.TrimSpace(strings.ToLower(c.QueryParam("status"))),
		Query:    strings.TrimSpace(c.QueryParam("q")),
		From:     from,
		To:       to,
		Page:     page,
		PageSize: pageSize,
	}

	total, rows, err := s.queryStoryList(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stories failed")
		return internalError(c, "Failed to load stories")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": rows,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"status": filter.Status,
			"q":      filter.Query,
			"from":   filter.From,
			"to":     filter.To,
		},
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storyUUID := strings.TrimSpace(c.Param("story_uuid"))
	if storyUUID == "" {
		return failValidation(c, map[string]string{"story_uuid": "is required"})
	}

	detail, err := s.queryStoryDetail(c.Request().Context(), storyUUID)
	if err != nil {
		if errors.Is(err, errStoryNotFound) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Str("story_uuid", storyUUID).Msg("query story detail failed")
		return internalError(c, "Failed to load story detail")
	}

	return success(c, detail)
}

func (s *Server) handleJobs(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("failed_limit"), 20, 1, 100)
	if err != nil {
		return failValidation(c, map[string]string{"failed_limit": err.Error()})
	}

	counts, failed, err := s.queryJobSummary(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query job summary failed")
		return internalError(c, "Failed to load job summary")
	}

	return success(c, map[string]any{
		"counts":        counts,
		"recent_failed": failed,
	})
}

const storyListColumns = `
	s.story_id,
	s.story_uuid::text,
	s.headline,
	s.primary_actor,
	s.topic_slug,
	s.status,
	s.reopen_count,
	s.first_seen_at,
	s.last_updated_at,
	s.article_count,
	s.source_count,
	s.top_entities,
	s.summary_neutral,
	s.summary_category,
	s.severity,
	s.enriched_at,
	s.merged_into_story_id
`

func scanStoryListItem(scan func(...any) error) (storyListItem, error) {
	var (
		row            storyListItem
		topEntitiesRaw []byte
	)
	err := scan(
		&row.StoryID,
		&row.StoryUUID,
		&row.Headline,
		&row.PrimaryActor,
		&row.TopicSlug,
		&row.Status,
		&row.ReopenCount,
		&row.FirstSeenAt,
		&row.LastUpdatedAt,
		&row.ArticleCount,
		&row.SourceCount,
		&topEntitiesRaw,
		&row.SummaryNeutral,
		&row.SummaryCategory,
		&row.Severity,
		&row.EnrichedAt,
		&row.MergedInto,
	)
	if err != nil {
		return row, err
	}

	row.TopEntities = []string{}
	if len(topEntitiesRaw) > 0 {
		_ = json.Unmarshal(topEntitiesRaw, &row.TopEntities)
	}
	return row, nil
}

func (s *Server) queryStoryList(ctx context.Context, filter storyListFilter) (int64, []storyListItem, error) {
	search := ""
	if filter.Query != "" {
		search = "%" + filter.Query + "%"
	}

	const countQuery = `
SELECT COUNT(*)
FROM news.stories s
WHERE ($1 = '' OR s.status = $1)
  AND ($2 = '' OR s.headline ILIKE $2 OR COALESCE(s.primary_actor, '') ILIKE $2)
  AND ($3::timestamptz IS NULL OR s.last_updated_at >= $3)
  AND ($4::timestamptz IS NULL OR s.last_updated_at <= $4)
`

	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, filter.Status, search, filter.From, filter.To).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count stories: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize

	rowsQuery := `
SELECT ` + storyListColumns + `
FROM news.stories s
WHERE ($1 = '' OR s.status = $1)
  AND ($2 = '' OR s.headline ILIKE $2 OR COALESCE(s.primary_actor, '') ILIKE $2)
  AND ($3::timestamptz IS NULL OR s.last_updated_at >= $3)
  AND ($4::timestamptz IS NULL OR s.last_updated_at <= $4)
ORDER BY s.last_updated_at DESC, s.story_id DESC
LIMIT $5
OFFSET $6
`

	rows, err := s.pool.Query(ctx, rowsQuery, filter.Status, search, filter.From, filter.To, filter.PageSize, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	items := make([]storyListItem, 0, filter.PageSize)
	for rows.Next() {
		row, err := scanStoryListItem(rows.Scan)
		if err != nil {
			return 0, nil, fmt.Errorf("scan story row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate story rows: %w", err)
	}

	return total, items, nil
}

func (s *Server) queryStoryDetail(ctx context.Context, storyUUID string) (*storyDetail, error) {
	storyQuery := `
SELECT ` + storyListColumns + `
FROM news.stories s
WHERE s.story_uuid = $1::uuid
`

	story, err := scanStoryListItemRow(s.pool.QueryRow(ctx, storyQuery, storyUUID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errStoryNotFound
		}
		return nil, fmt.Errorf("query story: %w", err)
	}

	const articlesQuery = `
SELECT
	a.article_id,
	a.article_uuid::text,
	a.title,
	a.canonical_url,
	a.source,
	a.source_tier,
	a.language,
	a.published_at,
	sa.is_primary_source,
	sa.match_score,
	sa.match_breakdown,
	sa.matched_at
FROM news.story_articles sa
JOIN news.articles a
	ON a.article_id = sa.article_id
WHERE sa.story_id = $1
ORDER BY a.published_at DESC NULLS LAST, a.article_id DESC
`

	rows, err := s.pool.Query(ctx, articlesQuery, story.StoryID)
	if err != nil {
		return nil, fmt.Errorf("query story articles: %w", err)
	}
	defer rows.Close()

	articles := make([]storyArticleItem, 0, story.ArticleCount)
	for rows.Next() {
		var (
			article      storyArticleItem
			breakdownRaw []byte
		)
		if err := rows.Scan(
			&article.ArticleID,
			&article.ArticleUUID,
			&article.Title,
			&article.CanonicalURL,
			&article.Source,
			&article.SourceTier,
			&article.Language,
			&article.PublishedAt,
			&article.IsPrimarySource,
			&article.MatchScore,
			&breakdownRaw,
			&article.MatchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan story article: %w", err)
		}

		if len(breakdownRaw) > 0 && string(breakdownRaw) != "null" {
			var breakdown map[string]any
			if err := json.Unmarshal(breakdownRaw, &breakdown); err == nil {
				article.MatchBreakdown = breakdown
			}
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story articles: %w", err)
	}

	return &storyDetail{
		Story:    story,
		Articles: articles,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoryListItemRow(row rowScanner) (storyListItem, error) {
	return scanStoryListItem(row.Scan)
}

func (s *Server) queryStoryDays(ctx context.Context, limit int) ([]storyDayBucket, error) {
	const q = `
SELECT
	TO_CHAR((s.first_seen_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day_bucket,
	COUNT(*)::BIGINT AS story_count
FROM news.stories s
GROUP BY day_bucket
ORDER BY day_bucket DESC
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query story day buckets: %w", err)
	}
	defer rows.Close()

	items := make([]storyDayBucket, 0, limit)
	for rows.Next() {
		var row storyDayBucket
		if err := rows.Scan(&row.Day, &row.StoryCount); err != nil {
			return nil, fmt.Errorf("scan story day bucket: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story day buckets: %w", err)
	}
	return items, nil
}

func (s *Server) queryStats(ctx context.Context) (*statsResponse, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM news.articles) AS articles,
	(SELECT COUNT(*) FROM news.articles WHERE embedding IS NOT NULL) AS articles_embedded,
	(SELECT COUNT(*) FROM news.stories) AS stories,
	(SELECT COUNT(*) FROM news.story_articles) AS story_links,
	(SELECT COUNT(*) FROM news.merge_events) AS merge_events,
	(SELECT COUNT(*) FROM news.jobs WHERE status = 'pending') AS pending_jobs,
	(SELECT MAX(fetched_at) FROM news.articles) AS last_fetched_at,
	(SELECT MAX(updated_at) FROM news.stories) AS last_story_updated
`

	var stats statsResponse
	if err := s.pool.QueryRow(ctx, q).Scan(
		&stats.Articles,
		&stats.ArticlesEmbedded,
		&stats.Stories,
		&stats.StoryLinks,
		&stats.MergeEvents,
		&stats.PendingJobs,
		&stats.LastFetchedAt,
		&stats.LastStoryUpdated,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	const statusQuery = `
SELECT status, COUNT(*)::BIGINT
FROM news.stories
GROUP BY status
ORDER BY status
`
	stats.StoriesByStatus = map[string]int64{}
	rows, err := s.pool.Query(ctx, statusQuery)
	if err != nil {
		return nil, fmt.Errorf("query story status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan story status count: %w", err)
		}
		stats.StoriesByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story status counts: %w", err)
	}

	const decisionQuery = `
SELECT decision, COUNT(*)::BIGINT
FROM news.cluster_events
GROUP BY decision
ORDER BY decision
`
	decisionRows, err := s.pool.Query(ctx, decisionQuery)
	if err != nil {
		return nil, fmt.Errorf("query cluster decisions: %w", err)
	}
	defer decisionRows.Close()

	stats.ClusterDecisions = map[string]int64{}
	for decisionRows.Next() {
		var decision string
		var count int64
		if err := decisionRows.Scan(&decision, &count); err != nil {
			return nil, fmt.Errorf("scan cluster decision: %w", err)
		}
		stats.ClusterDecisions[decision] = count
	}
	if err := decisionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster decisions: %w", err)
	}

	return &stats, nil
}

func (s *Server) queryJobSummary(ctx context.Context, failedLimit int) ([]jobTypeCount, []failedJobItem, error) {
	const countsQuery = `
SELECT job_type, status, COUNT(*)::BIGINT
FROM news.jobs
GROUP BY job_type, status
ORDER BY job_type, status
`
	rows, err := s.pool.Query(ctx, countsQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("query job counts: %w", err)
	}
	defer rows.Close()

	counts := make([]jobTypeCount, 0, 16)
	for rows.Next() {
		var row jobTypeCount
		if err := rows.Scan(&row.JobType, &row.Status, &row.Count); err != nil {
			return nil, nil, fmt.Errorf("scan job count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate job counts: %w", err)
	}

	const failedQuery = `
SELECT job_id, job_type, attempts, last_error, error_category, finished_at
FROM news.jobs
WHERE status = 'failed'
ORDER BY finished_at DESC NULLS LAST, job_id DESC
LIMIT $1
`
	failedRows, err := s.pool.Query(ctx, failedQuery, failedLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed jobs: %w", err)
	}
	defer failedRows.Close()

	failed := make([]failedJobItem, 0, failedLimit)
	for failedRows.Next() {
		var row failedJobItem
		if err := failedRows.Scan(&row.JobID, &row.JobType, &row.Attempts, &row.LastError, &row.ErrorCategory, &row.FinishedAt); err != nil {
			return nil, nil, fmt.Errorf("scan failed job: %w", err)
		}
		failed = append(failed, row)
	}
	if err := failedRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate failed jobs: %w", err)
	}

	return counts, failed, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
