package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
)

// Queue enqueues typed payloads as pending job rows.
type Queue struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func NewQueue(pool *db.Pool, logger zerolog.Logger) *Queue {
	return &Queue{
		pool:   pool,
		logger: logger.With().Str("component", "job_queue").Logger(),
	}
}

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	// RunAfter delays eligibility; zero means immediately claimable.
	RunAfter time.Time
	// DedupeKey suppresses duplicate enqueues: a second insert with the
	// same key is a no-op while the first row exists.
	DedupeKey string
}

// Enqueue inserts one pending job. Returns the job ID and whether a row
// was actually inserted (false when the dedupe key already exists).
func (q *Queue) Enqueue(ctx context.Context, payload Payload, opts EnqueueOptions) (int64, bool, error) {
	if payload == nil {
		return 0, false, fmt.Errorf("payload is nil")
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, false, fmt.Errorf("marshal %s payload: %w", payload.JobType(), err)
	}

	now := globaltime.UTC()
	runAfter := opts.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}

	const query = `
INSERT INTO news.jobs (job_type, payload, status, run_after, dedupe_key, created_at, updated_at)
VALUES ($1, $2::jsonb, 'pending', $3, NULLIF($4, ''), $5, $5)
ON CONFLICT (dedupe_key) DO NOTHING
RETURNING job_id
`

	var jobID int64
	err = q.pool.QueryRow(ctx, query, payload.JobType(), string(encoded), runAfter, opts.DedupeKey, now).Scan(&jobID)
	if err != nil {
		if db.IsNoRows(err) {
			q.logger.Debug().
				Str("job_type", payload.JobType()).
				Str("dedupe_key", opts.DedupeKey).
				Msg("enqueue suppressed by dedupe key")
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("enqueue %s job: %w", payload.JobType(), err)
	}

	return jobID, true, nil
}
