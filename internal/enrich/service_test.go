package enrich

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/config"
	"horse.fit/weave/internal/jobs"
)

func TestShouldSkip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	opts := normalizeOptions(Options{})
	recently := now.Add(-3 * time.Hour)
	longAgo := now.Add(-20 * time.Hour)

	tests := []struct {
		name     string
		story    storyContext
		wantSkip bool
	}{
		{
			name:     "fresh story proceeds",
			story:    storyContext{Status: "emerging"},
			wantSkip: false,
		},
		{
			name:     "merged story skipped",
			story:    storyContext{Status: "merged"},
			wantSkip: true,
		},
		{
			name:     "archived story skipped",
			story:    storyContext{Status: "archived"},
			wantSkip: true,
		},
		{
			name:     "failure limit reached",
			story:    storyContext{Status: "growing", FailureCount: 5},
			wantSkip: true,
		},
		{
			name:     "just under failure limit",
			story:    storyContext{Status: "growing", FailureCount: 4},
			wantSkip: false,
		},
		{
			name:     "within cooldown",
			story:    storyContext{Status: "growing", EnrichedAt: &recently},
			wantSkip: true,
		},
		{
			name:     "cooldown elapsed and story updated since",
			story:    storyContext{Status: "growing", EnrichedAt: &longAgo, LastUpdatedAt: recently},
			wantSkip: false,
		},
		{
			name:     "unchanged since last summary",
			story:    storyContext{Status: "growing", EnrichedAt: &longAgo, LastUpdatedAt: longAgo.Add(-time.Hour)},
			wantSkip: true,
		},
		{
			name:     "enriched and updated at the same instant",
			story:    storyContext{Status: "growing", EnrichedAt: &longAgo, LastUpdatedAt: longAgo},
			wantSkip: true,
		},
		{
			name:     "never enriched proceeds regardless of age",
			story:    storyContext{Status: "stable", LastUpdatedAt: longAgo},
			wantSkip: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reason, skip := shouldSkip(tt.story, opts, now)
			if skip != tt.wantSkip {
				t.Fatalf("shouldSkip() = %v (%q), want %v", skip, reason, tt.wantSkip)
			}
			if skip && reason == "" {
				t.Fatal("skip without a reason")
			}
		})
	}
}

func TestNewServiceUsesConfiguredRetryPolicy(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		RetryMaxAttempts:    2,
		RetryBackoffBase:    time.Second,
		RetryJitterMax:      50 * time.Millisecond,
		EnrichCooldownHours: 6,
		EnrichFailureLimit:  3,
	}

	svc := NewService(nil, zerolog.Nop(), nil, cfg)
	want := jobs.RetryPolicy{MaxAttempts: 2, BackoffBase: time.Second, JitterMax: 50 * time.Millisecond}
	if svc.retry != want {
		t.Fatalf("retry = %+v, want %+v", svc.retry, want)
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	story := storyContext{
		StoryID:     5,
		Headline:    "Regulator orders recall of smart thermostats",
		TopEntities: []string{"ORG-ACME", "ORG-SAFETY-BOARD"},
		Headlines: []string{
			"Acme thermostats recalled over fire risk",
			"Safety board expands recall to older models",
		},
	}

	system, user := BuildPrompt(story)
	if !strings.Contains(system, "summary_neutral") || !strings.Contains(system, "severity") {
		t.Fatalf("system prompt missing required fields: %q", system)
	}
	for _, want := range []string{
		"Regulator orders recall of smart thermostats",
		"ORG-ACME, ORG-SAFETY-BOARD",
		"Acme thermostats recalled over fire risk",
	} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}

	// The prompt must be reproducible for the same story state.
	system2, user2 := BuildPrompt(story)
	if system != system2 || user != user2 {
		t.Fatal("BuildPrompt is not deterministic")
	}
}

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	opts := normalizeOptions(Options{})
	if opts.Cooldown != 12*time.Hour {
		t.Fatalf("Cooldown = %v, want 12h", opts.Cooldown)
	}
	if opts.FailureLimit != 5 {
		t.Fatalf("FailureLimit = %d, want 5", opts.FailureLimit)
	}
	if opts.MaxContextArticles != 8 {
		t.Fatalf("MaxContextArticles = %d, want 8", opts.MaxContextArticles)
	}

	in := Options{Cooldown: time.Hour, FailureLimit: 2, MaxContextArticles: 3}
	if got := normalizeOptions(in); got != in {
		t.Fatalf("normalizeOptions(%+v) = %+v, want unchanged", in, got)
	}
}
