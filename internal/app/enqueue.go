package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/weave/internal/cli"
	"horse.fit/weave/internal/globaltime"
	"horse.fit/weave/internal/jobs"
)

func runEnqueue(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	jobType := fs.String("type", "", "Job type (required)")
	feedURL := fs.String("feed-url", "", "Feed URL (fetch_feed)")
	source := fs.String("source", "", "Source label (fetch_feed)")
	articleID := fs.Int64("article-id", 0, "Article ID (cluster_article, embed_article)")
	storyID := fs.Int64("story-id", 0, "Story ID (enrich_story, split_check)")
	limit := fs.Int("limit", 0, "Limit (cluster_batch, merge_detect)")
	delay := fs.Duration("delay", 0, "Delay before the job becomes claimable")
	dedupeKey := fs.String("dedupe-key", "", "Optional dedupe key")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	payload, err := buildPayload(strings.TrimSpace(*jobType), payloadFlags{
		FeedURL:   strings.TrimSpace(*feedURL),
		Source:    strings.TrimSpace(*source),
		ArticleID: *articleID,
		StoryID:   *storyID,
		Limit:     *limit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	env, err := connect(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	opts := jobs.EnqueueOptions{DedupeKey: strings.TrimSpace(*dedupeKey)}
	if *delay > 0 {
		opts.RunAfter = globaltime.UTC().Add(*delay)
	}

	queue := jobs.NewQueue(env.Pool, env.Logger)
	jobID, inserted, err := queue.Enqueue(ctx, payload, opts)
	if err != nil {
		env.Logger.Error().Err(err).Str("job_type", payload.JobType()).Msg("enqueue failed")
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}

	if !inserted {
		fmt.Println("duplicate: a job with this dedupe key already exists")
		return 0
	}
	fmt.Printf("job_id=%d type=%s\n", jobID, payload.JobType())
	return 0
}

type payloadFlags struct {
	FeedURL   string
	Source    string
	ArticleID int64
	StoryID   int64
	Limit     int
}

func buildPayload(jobType string, flags payloadFlags) (jobs.Payload, error) {
	switch jobType {
	case jobs.TypeFetchFeed:
		if flags.FeedURL == "" || flags.Source == "" {
			return nil, fmt.Errorf("--feed-url and --source are required for %s", jobType)
		}
		return jobs.FetchFeedPayload{FeedURL: flags.FeedURL, Source: flags.Source}, nil
	case jobs.TypeClusterArticle:
		if flags.ArticleID <= 0 {
			return nil, fmt.Errorf("--article-id is required for %s", jobType)
		}
		return jobs.ClusterArticlePayload{ArticleID: flags.ArticleID}, nil
	case jobs.TypeEmbedArticle:
		if flags.ArticleID <= 0 {
			return nil, fmt.Errorf("--article-id is required for %s", jobType)
		}
		return jobs.EmbedArticlePayload{ArticleID: flags.ArticleID}, nil
	case jobs.TypeClusterBatch:
		if flags.Limit < 1 {
			return nil, fmt.Errorf("--limit is required for %s", jobType)
		}
		return jobs.ClusterBatchPayload{Limit: flags.Limit}, nil
	case jobs.TypeEnrichStory:
		if flags.StoryID <= 0 {
			return nil, fmt.Errorf("--story-id is required for %s", jobType)
		}
		return jobs.EnrichStoryPayload{StoryID: flags.StoryID}, nil
	case jobs.TypeSplitCheck:
		if flags.StoryID <= 0 {
			return nil, fmt.Errorf("--story-id is required for %s", jobType)
		}
		return jobs.SplitCheckPayload{StoryID: flags.StoryID}, nil
	case jobs.TypeUpdateLifecycle:
		return jobs.UpdateLifecyclePayload{}, nil
	case jobs.TypeMergeDetect:
		payload := jobs.MergeDetectPayload{}
		if flags.Limit > 0 {
			limit := flags.Limit
			payload.Limit = &limit
		}
		return payload, nil
	case "":
		return nil, fmt.Errorf("--type is required")
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}
