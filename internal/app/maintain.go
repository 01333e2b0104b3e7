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

func runLifecycle(args []string) int {
	fs := flag.NewFlagSet("lifecycle", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	svc := cluster.NewService(env.Pool, env.Logger, jobs.NewQueue(env.Pool, env.Logger), env.Cfg)
	result, err := svc.UpdateLifecycle(ctx)
	if err != nil {
		env.Logger.Error().Err(err).Msg("lifecycle pass failed")
		fmt.Fprintf(os.Stderr, "Lifecycle pass failed: %v\n", err)
		return 1
	}

	fmt.Printf("examined=%d transitions=%d\n", result.Examined, result.Transitions)
	return 0
}

func runSplit(args []string) int {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	storyID := fs.Int64("story-id", 0, "Story to check (required)")
	threshold := fs.Float64("threshold", 0, "Coherence threshold override (0 uses the configured value)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *storyID <= 0 {
		fmt.Fprintln(os.Stderr, "--story-id is required")
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be within [0,1]")
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

	var override *float64
	if *threshold > 0 {
		override = threshold
	}

	svc := cluster.NewService(env.Pool, env.Logger, jobs.NewQueue(env.Pool, env.Logger), env.Cfg)
	result, err := svc.CheckSplit(ctx, *storyID, override)
	if err != nil {
		env.Logger.Error().Err(err).Int64("story_id", *storyID).Msg("split check failed")
		fmt.Fprintf(os.Stderr, "Split check failed: %v\n", err)
		return 1
	}

	fmt.Printf("story_id=%d sampled=%d coherence=%.4f split=%t moved=%d\n",
		result.StoryID, result.Sampled, result.Coherence, result.Split, result.Moved)
	return 0
}

func runMerge(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	limit := fs.Int("limit", 0, "Stories to scan (0 uses the configured value)")
	threshold := fs.Float64("threshold", 0, "Centroid similarity override (0 uses the configured value)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be within [0,1]")
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

	var limitOverride *int
	if *limit > 0 {
		limitOverride = limit
	}
	var thresholdOverride *float64
	if *threshold > 0 {
		thresholdOverride = threshold
	}

	svc := cluster.NewService(env.Pool, env.Logger, jobs.NewQueue(env.Pool, env.Logger), env.Cfg)
	result, err := svc.DetectMerges(ctx, limitOverride, thresholdOverride)
	if err != nil {
		env.Logger.Error().Err(err).Msg("merge detection failed")
		fmt.Fprintf(os.Stderr, "Merge detection failed: %v\n", err)
		return 1
	}

	fmt.Printf("scanned=%d merged=%d\n", result.Scanned, result.Merged)
	return 0
}

func runRecompute(args []string) int {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	storyID := fs.Int64("story-id", 0, "Recompute a single story")
	limit := fs.Int("limit", 500, "Maximum stories to recompute when no --story-id is given")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *storyID == 0 && *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
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

	svc := cluster.NewService(env.Pool, env.Logger, jobs.NewQueue(env.Pool, env.Logger), env.Cfg)

	if *storyID > 0 {
		result, err := svc.RecomputeStory(ctx, *storyID)
		if err != nil {
			env.Logger.Error().Err(err).Int64("story_id", *storyID).Msg("recompute failed")
			fmt.Fprintf(os.Stderr, "Recompute failed: %v\n", err)
			return 1
		}
		fmt.Printf("story_id=%d article_count=%d\n", result.StoryID, result.ArticleCount)
		return 0
	}

	recomputed, err := svc.RecomputeAll(ctx, *limit)
	if err != nil {
		env.Logger.Error().Err(err).Msg("recompute pass failed")
		fmt.Fprintf(os.Stderr, "Recompute pass failed: %v\n", err)
		return 1
	}
	fmt.Printf("recomputed=%d\n", recomputed)
	return 0
}
