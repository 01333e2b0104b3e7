// Package app implements the weave CLI: one subcommand per pipeline
// stage plus the long-running worker and the read API server.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "enrich":
		return runEnrich(args[1:])
	case "lifecycle":
		return runLifecycle(args[1:])
	case "split":
		return runSplit(args[1:])
	case "merge":
		return runMerge(args[1:])
	case "recompute":
		return runRecompute(args[1:])
	case "enqueue":
		return runEnqueue(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "weave CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  weave <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  fetch      Pull one feed and insert new articles")
	fmt.Fprintln(os.Stderr, "  embed      Backfill embeddings for pending articles")
	fmt.Fprintln(os.Stderr, "  cluster    Assign embedded articles to stories")
	fmt.Fprintln(os.Stderr, "  enrich     Generate a neutral summary for one story")
	fmt.Fprintln(os.Stderr, "  lifecycle  Advance story lifecycle states by age")
	fmt.Fprintln(os.Stderr, "  split      Check one story for incoherence and split it")
	fmt.Fprintln(os.Stderr, "  merge      Detect and merge duplicate stories")
	fmt.Fprintln(os.Stderr, "  recompute  Recompute story centroids and entity counts")
	fmt.Fprintln(os.Stderr, "  enqueue    Insert a job into the queue")
	fmt.Fprintln(os.Stderr, "  worker     Run the job queue worker")
	fmt.Fprintln(os.Stderr, "  serve      Start the read-only JSON API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"weave <command> -h\" for command-specific flags.")
}
