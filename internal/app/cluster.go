package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/weave/internal/cli"
	"horse.fit/weave/internal/cluster"
	"horse.fit/weave/internal/jobs"
)

func runCluster(args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	articleID := fs.Int64("article-id", 0, "Cluster a single article instead of a batch")
	limit := fs.Int("limit", 200, "Maximum unclustered articles to process in a batch")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *articleID == 0 && *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
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

	queue := jobs.NewQueue(env.Pool, env.Logger)
	svc := cluster.NewService(env.Pool, env.Logger, queue, env.Cfg)

	if *articleID > 0 {
		decision, err := svc.ClusterArticle(ctx, *articleID)
		if err != nil {
			env.Logger.Error().Err(err).Int64("article_id", *articleID).Msg("clustering failed")
			fmt.Fprintf(os.Stderr, "Clustering failed: %v\n", err)
			return 1
		}
		if outputFormat == outputFormatJSON {
			if err := printJSON(decision); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
				return 1
			}
			return 0
		}
		fmt.Printf("action=%s story_id=%d best_score=%.4f\n", decision.Action, decision.StoryID, decision.BestScore)
		return 0
	}

	result, err := svc.ClusterBatch(ctx, *limit)
	if err != nil {
		env.Logger.Error().Err(err).Msg("batch clustering failed")
		fmt.Fprintf(os.Stderr, "Batch clustering failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"processed", fmt.Sprintf("%d", result.Processed)},
		{"attached", fmt.Sprintf("%d", result.Attached)},
		{"created", fmt.Sprintf("%d", result.Created)},
		{"reopened", fmt.Sprintf("%d", result.Reopened)},
		{"skipped", fmt.Sprintf("%d", result.Skipped)},
		{"failed", fmt.Sprintf("%d", result.Failed)},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
