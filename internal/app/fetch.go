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
	"horse.fit/weave/internal/ingest"
	"horse.fit/weave/internal/jobs"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	feedURL := fs.String("feed-url", "", "Feed URL to fetch (required)")
	source := fs.String("source", "", "Source label for inserted articles (required)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*feedURL) == "" || strings.TrimSpace(*source) == "" {
		fmt.Fprintln(os.Stderr, "--feed-url and --source are required")
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
	svc := ingest.NewService(env.Pool, env.Logger, queue, env.Cfg)

	result, err := svc.FetchFeed(ctx, strings.TrimSpace(*feedURL), strings.TrimSpace(*source))
	if err != nil {
		env.Logger.Error().Err(err).Str("feed_url", *feedURL).Msg("feed fetch failed")
		fmt.Fprintf(os.Stderr, "Feed fetch failed: %v\n", err)
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
		{"items", fmt.Sprintf("%d", result.Items)},
		{"inserted", fmt.Sprintf("%d", result.Inserted)},
		{"duplicates", fmt.Sprintf("%d", result.Duplicates)},
		{"enqueued", fmt.Sprintf("%d", result.Enqueued)},
		{"failed", fmt.Sprintf("%d", result.Failed)},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
