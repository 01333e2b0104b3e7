package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"horse.fit/weave/internal/budget"
	"horse.fit/weave/internal/cli"
	"horse.fit/weave/internal/cluster"
	"horse.fit/weave/internal/embed"
	"horse.fit/weave/internal/enrich"
	"horse.fit/weave/internal/ingest"
	"horse.fit/weave/internal/jobs"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	once := fs.Bool("once", false, "Drain the queue and exit instead of polling forever")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "worker does not accept positional arguments")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := connect(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	cfg := env.Cfg
	queue := jobs.NewQueue(env.Pool, env.Logger)
	tracker := budget.NewTracker(env.Pool, env.Logger, cfg.DailyBudget)

	ingestSvc := ingest.NewService(env.Pool, env.Logger, queue, cfg)
	embedSvc := embed.NewService(env.Pool, env.Logger, queue, cfg)
	clusterSvc := cluster.NewService(env.Pool, env.Logger, queue, cfg)
	enrichSvc := enrich.NewService(env.Pool, env.Logger, tracker, cfg)

	opts := jobs.WorkerOptions{
		PollInterval:  cfg.WorkerPollInterval,
		DispatchDelay: cfg.WorkerDispatchDelay,
		MaxConcurrent: cfg.WorkerMaxConcurrent,
		StuckTimeout:  cfg.WorkerStuckTimeout,
		AtomicClaim:   cfg.WorkerAtomicClaim,
	}
	if *once {
		opts.MaxEmptyPolls = cfg.WorkerMaxEmptyPolls
	}

	worker := jobs.NewWorker(env.Pool, env.Logger, opts)

	worker.Register(jobs.TypeFetchFeed, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.FetchFeedPayload)
		result, err := ingestSvc.FetchFeed(ctx, p.FeedURL, p.Source)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("items=%d inserted=%d duplicates=%d", result.Items, result.Inserted, result.Duplicates),
		}, nil
	})

	worker.Register(jobs.TypeEmbedArticle, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.EmbedArticlePayload)
		result, err := embedSvc.EmbedArticle(ctx, p.ArticleID)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		if result.Skipped > 0 {
			return jobs.HandlerResult{Skipped: true, Detail: "already embedded"}, nil
		}
		return jobs.HandlerResult{}, nil
	})

	worker.Register(jobs.TypeClusterArticle, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.ClusterArticlePayload)
		decision, err := clusterSvc.ClusterArticle(ctx, p.ArticleID)
		if err != nil {
			if errors.Is(err, cluster.ErrArticleNotEmbedded) {
				// Clustering re-runs once the embedding lands.
				_, _, enqueueErr := queue.Enqueue(ctx, jobs.EmbedArticlePayload{ArticleID: p.ArticleID}, jobs.EnqueueOptions{
					DedupeKey: fmt.Sprintf("embed:%d", p.ArticleID),
				})
				if enqueueErr != nil {
					return jobs.HandlerResult{}, enqueueErr
				}
				return jobs.HandlerResult{Skipped: true, Detail: "article not embedded; embedding enqueued"}, nil
			}
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("action=%s story_id=%d", decision.Action, decision.StoryID),
		}, nil
	})

	worker.Register(jobs.TypeClusterBatch, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.ClusterBatchPayload)
		result, err := clusterSvc.ClusterBatch(ctx, p.Limit)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("processed=%d attached=%d created=%d", result.Processed, result.Attached, result.Created),
		}, nil
	})

	worker.Register(jobs.TypeEnrichStory, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.EnrichStoryPayload)
		result, err := enrichSvc.EnrichStory(ctx, p.StoryID)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		if result.Skipped {
			return jobs.HandlerResult{Skipped: true, Detail: result.Reason}, nil
		}
		return jobs.HandlerResult{}, nil
	})

	worker.Register(jobs.TypeUpdateLifecycle, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		result, err := clusterSvc.UpdateLifecycle(ctx)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("examined=%d transitions=%d", result.Examined, result.Transitions),
		}, nil
	})

	worker.Register(jobs.TypeSplitCheck, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.SplitCheckPayload)
		result, err := clusterSvc.CheckSplit(ctx, p.StoryID, p.Threshold)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("coherence=%.4f split=%t moved=%d", result.Coherence, result.Split, result.Moved),
		}, nil
	})

	worker.Register(jobs.TypeMergeDetect, func(ctx context.Context, payload jobs.Payload) (jobs.HandlerResult, error) {
		p := payload.(jobs.MergeDetectPayload)
		result, err := clusterSvc.DetectMerges(ctx, p.Limit, p.Threshold)
		if err != nil {
			return jobs.HandlerResult{}, err
		}
		return jobs.HandlerResult{
			Detail: fmt.Sprintf("scanned=%d merged=%d", result.Scanned, result.Merged),
		}, nil
	})

	stats, err := worker.Run(ctx)
	if err != nil {
		env.Logger.Error().Err(err).Msg("worker run failed")
		fmt.Fprintf(os.Stderr, "Worker run failed: %v\n", err)
		return 1
	}

	fmt.Printf("claimed=%d completed=%d skipped=%d rescheduled=%d failed=%d\n",
		stats.Claimed, stats.Completed, stats.Skipped, stats.Rescheduled, stats.Failed)
	return 0
}
