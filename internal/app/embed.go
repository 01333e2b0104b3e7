package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/weave/internal/cli"
	"horse.fit/weave/internal/embed"
	"horse.fit/weave/internal/jobs"
)

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	articleID := fs.Int64("article-id", 0, "Embed a single article instead of backfilling")
	limit := fs.Int("limit", 200, "Maximum articles to embed in a backfill pass")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	env, err := connect(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	queue := jobs.NewQueue(env.Pool, env.Logger)
	svc := embed.NewService(env.Pool, env.Logger, queue, env.Cfg)

	var result embed.Result
	if *articleID > 0 {
		result, err = svc.EmbedArticle(ctx, *articleID)
	} else {
		result, err = svc.EmbedPending(ctx, *limit)
	}
	if err != nil {
		env.Logger.Error().Err(err).Msg("embedding failed")
		fmt.Fprintf(os.Stderr, "Embedding failed: %v\n", err)
		return 1
	}

	fmt.Printf("processed=%d embedded=%d skipped=%d\n", result.Processed, result.Embedded, result.Skipped)
	return 0
}
