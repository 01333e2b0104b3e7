package jobs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNormalizeWorkerOptions(t *testing.T) {
	t.Parallel()

	t.Run("zero values get defaults", func(t *testing.T) {
		t.Parallel()

		opts := normalizeWorkerOptions(WorkerOptions{})
		if opts.PollInterval != 5*time.Second {
			t.Fatalf("PollInterval = %v, want 5s", opts.PollInterval)
		}
		if opts.MaxConcurrent != 2 {
			t.Fatalf("MaxConcurrent = %d, want 2", opts.MaxConcurrent)
		}
		if opts.StuckTimeout != 10*time.Minute {
			t.Fatalf("StuckTimeout = %v, want 10m", opts.StuckTimeout)
		}
		if opts.DispatchDelay != 0 {
			t.Fatalf("DispatchDelay = %v, want 0", opts.DispatchDelay)
		}
		if opts.MaxEmptyPolls != 0 {
			t.Fatalf("MaxEmptyPolls = %d, want 0 (unbounded)", opts.MaxEmptyPolls)
		}
	})

	t.Run("explicit values survive", func(t *testing.T) {
		t.Parallel()

		in := WorkerOptions{
			PollInterval:  time.Second,
			DispatchDelay: 500 * time.Millisecond,
			MaxConcurrent: 4,
			MaxEmptyPolls: 30,
			StuckTimeout:  time.Minute,
			AtomicClaim:   true,
		}
		if got := normalizeWorkerOptions(in); got != in {
			t.Fatalf("normalizeWorkerOptions(%+v) = %+v, want unchanged", in, got)
		}
	})

	t.Run("negative values clamp", func(t *testing.T) {
		t.Parallel()

		opts := normalizeWorkerOptions(WorkerOptions{DispatchDelay: -time.Second, MaxEmptyPolls: -5})
		if opts.DispatchDelay != 0 {
			t.Fatalf("DispatchDelay = %v, want 0", opts.DispatchDelay)
		}
		if opts.MaxEmptyPolls != 0 {
			t.Fatalf("MaxEmptyPolls = %d, want 0", opts.MaxEmptyPolls)
		}
	})
}

func TestRunHandlerRecoversPanic(t *testing.T) {
	t.Parallel()

	handler := func(ctx context.Context, payload Payload) (HandlerResult, error) {
		panic("nil story pointer")
	}

	_, err := runHandler(context.Background(), handler, ClusterArticlePayload{ArticleID: 1})
	if err == nil {
		t.Fatal("runHandler() = nil, want error from panic")
	}
	if !strings.Contains(err.Error(), "handler panic") {
		t.Fatalf("error = %q, want it to mention the panic", err)
	}
}

func TestRunHandlerPassesThrough(t *testing.T) {
	t.Parallel()

	handler := func(ctx context.Context, payload Payload) (HandlerResult, error) {
		return HandlerResult{Skipped: true, Detail: "already embedded"}, nil
	}

	result, err := runHandler(context.Background(), handler, EmbedArticlePayload{ArticleID: 2})
	if err != nil {
		t.Fatalf("runHandler() error: %v", err)
	}
	if !result.Skipped || result.Detail != "already embedded" {
		t.Fatalf("result = %+v, want skipped with detail", result)
	}
}
