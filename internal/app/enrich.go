package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/weave/internal/budget"
	"horse.fit/weave/internal/cli"
	"horse.fit/weave/internal/enrich"
)

func runEnrich(args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 3*time.Minute, "Command timeout")
	storyID := fs.Int64("story-id", 0, "Story to enrich (required)")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	env, err := connect(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	tracker := budget.NewTracker(env.Pool, env.Logger, env.Cfg.DailyBudget)
	svc := enrich.NewService(env.Pool, env.Logger, tracker, env.Cfg)

	result, err := svc.EnrichStory(ctx, *storyID)
	if err != nil {
		env.Logger.Error().Err(err).Int64("story_id", *storyID).Msg("enrichment failed")
		fmt.Fprintf(os.Stderr, "Enrichment failed: %v\n", err)
		return 1
	}

	if result.Skipped {
		fmt.Printf("story_id=%d skipped reason=%q\n", result.StoryID, result.Reason)
		return 0
	}
	fmt.Printf("story_id=%d enriched\n", result.StoryID)
	return 0
}
