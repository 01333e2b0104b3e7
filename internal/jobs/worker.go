package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/weave/internal/db"
	"horse.fit/weave/internal/globaltime"
)

// HandlerResult distinguishes real work from a deliberate skip. Skips are
// recorded as completed, never as failures.
type HandlerResult struct {
	Skipped bool
	Detail  string
}

// Handler processes one decoded payload.
type Handler func(ctx context.Context, payload Payload) (HandlerResult, error)

// WorkerOptions bound the polling loop.
type WorkerOptions struct {
	PollInterval  time.Duration
	DispatchDelay time.Duration
	MaxConcurrent int
	// MaxEmptyPolls ends a bounded run after that many consecutive empty
	// claims; 0 polls forever.
	MaxEmptyPolls int
	StuckTimeout  time.Duration
	// AtomicClaim selects the single-statement claim. The fallback reads
	// then writes and races under concurrent workers.
	AtomicClaim bool
}

func normalizeWorkerOptions(opts WorkerOptions) WorkerOptions {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.DispatchDelay < 0 {
		opts.DispatchDelay = 0
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.MaxEmptyPolls < 0 {
		opts.MaxEmptyPolls = 0
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 10 * time.Minute
	}
	return opts
}

// RunStats counts one worker run.
type RunStats struct {
	Claimed     int
	Completed   int
	Skipped     int
	Rescheduled int
	Failed      int
	EmptyPolls  int
}

// Worker is the polling runtime shell around the job table.
type Worker struct {
	pool     *db.Pool
	logger   zerolog.Logger
	opts     WorkerOptions
	runID    string
	handlers map[string]Handler

	mu    sync.Mutex
	stats RunStats
}

func NewWorker(pool *db.Pool, logger zerolog.Logger, opts WorkerOptions) *Worker {
	runID := uuid.NewString()
	return &Worker{
		pool:     pool,
		logger:   logger.With().Str("component", "worker").Str("run_id", runID).Logger(),
		opts:     normalizeWorkerOptions(opts),
		runID:    runID,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Types without a handler are
// completed as skipped rather than failed.
func (w *Worker) Register(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

type claimedJob struct {
	ID       int64
	Type     string
	Payload  json.RawMessage
	Attempts int
}

// Run polls until the context is cancelled or, in bounded-run mode, until
// MaxEmptyPolls consecutive claims come back empty. In-flight jobs always
// finish before Run returns.
func (w *Worker) Run(ctx context.Context) (RunStats, error) {
	if !w.opts.AtomicClaim {
		w.logger.Warn().Msg("read-then-write job claim enabled; this is not race-safe under concurrent workers")
	}

	if reset, err := w.resetStuckJobs(ctx); err != nil {
		w.logger.Error().Err(err).Msg("reset stuck jobs failed")
	} else if reset > 0 {
		w.logger.Warn().Int("count", reset).Msg("reset stuck processing jobs to pending")
	}

	slots := make(chan struct{}, w.opts.MaxConcurrent)
	var wg sync.WaitGroup
	var lastDispatch time.Time
	consecutiveEmpty := 0

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case slots <- struct{}{}:
		}

		if w.opts.DispatchDelay > 0 && !lastDispatch.IsZero() {
			if remaining := w.opts.DispatchDelay - time.Since(lastDispatch); remaining > 0 {
				if !sleepCtx(ctx, remaining) {
					<-slots
					break loop
				}
			}
		}

		job, err := w.claim(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				break loop
			}
			w.logger.Error().Err(err).Msg("claim job failed")
			if !sleepCtx(ctx, w.opts.PollInterval) {
				break loop
			}
			continue
		}

		if job == nil {
			<-slots
			consecutiveEmpty++
			w.bump(func(s *RunStats) { s.EmptyPolls++ })
			if w.opts.MaxEmptyPolls > 0 && consecutiveEmpty >= w.opts.MaxEmptyPolls {
				w.logger.Info().Int("empty_polls", consecutiveEmpty).Msg("queue drained, ending bounded run")
				break loop
			}
			if !sleepCtx(ctx, w.opts.PollInterval) {
				break loop
			}
			continue
		}

		consecutiveEmpty = 0
		lastDispatch = globaltime.Now()
		w.bump(func(s *RunStats) { s.Claimed++ })

		wg.Add(1)
		go func(job *claimedJob) {
			defer wg.Done()
			defer func() { <-slots }()
			// Claimed jobs run to completion even during shutdown.
			w.process(context.WithoutCancel(ctx), job)
		}(job)
	}

	wg.Wait()

	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()

	w.logger.Info().
		Int("claimed", stats.Claimed).
		Int("completed", stats.Completed).
		Int("skipped", stats.Skipped).
		Int("rescheduled", stats.Rescheduled).
		Int("failed", stats.Failed).
		Msg("worker run finished")

	return stats, nil
}

func (w *Worker) bump(update func(*RunStats)) {
	w.mu.Lock()
	update(&w.stats)
	w.mu.Unlock()
}

// claim flips the oldest eligible pending job to processing. The atomic
// variant does it in one statement so concurrent workers can never claim
// the same row; SKIP LOCKED keeps them from queueing on each other.
func (w *Worker) claim(ctx context.Context) (*claimedJob, error) {
	if w.opts.AtomicClaim {
		return w.claimAtomic(ctx)
	}
	return w.claimLegacy(ctx)
}

func (w *Worker) claimAtomic(ctx context.Context) (*claimedJob, error) {
	now := globaltime.UTC()
	const query = `
UPDATE news.jobs
SET status = 'processing',
    attempts = attempts + 1,
    claimed_by = $1,
    claimed_at = $2,
    updated_at = $2
WHERE job_id = (
    SELECT job_id
    FROM news.jobs
    WHERE status = 'pending'
      AND run_after <= $2
    ORDER BY run_after, job_id
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING job_id, job_type, payload, attempts
`

	var job claimedJob
	err := w.pool.QueryRow(ctx, query, w.runID, now).Scan(&job.ID, &job.Type, &job.Payload, &job.Attempts)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("atomic claim: %w", err)
	}
	return &job, nil
}

func (w *Worker) claimLegacy(ctx context.Context) (*claimedJob, error) {
	now := globaltime.UTC()

	var job claimedJob
	err := w.pool.QueryRow(ctx, `
SELECT job_id, job_type, payload, attempts
FROM news.jobs
WHERE status = 'pending'
  AND run_after <= $1
ORDER BY run_after, job_id
LIMIT 1
`, now).Scan(&job.ID, &job.Type, &job.Payload, &job.Attempts)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("legacy claim select: %w", err)
	}

	tag, err := w.pool.Exec(ctx, `
UPDATE news.jobs
SET status = 'processing',
    attempts = attempts + 1,
    claimed_by = $1,
    claimed_at = $2,
    updated_at = $2
WHERE job_id = $3
  AND status = 'pending'
`, w.runID, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("legacy claim update job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Another worker won the race; report an empty poll.
		return nil, nil
	}
	job.Attempts++
	return &job, nil
}

func (w *Worker) process(ctx context.Context, job *claimedJob) {
	logger := w.logger.With().Int64("job_id", job.ID).Str("job_type", job.Type).Logger()

	payload, err := DecodePayload(job.Type, job.Payload)
	if err != nil {
		logger.Error().Err(err).Msg("decode job payload failed")
		w.settleFailure(ctx, job, WrapCategory(CategoryJSONParse, err), logger)
		return
	}

	handler, ok := w.handlers[job.Type]
	if !ok {
		logger.Warn().Msg("no handler registered, completing job as skipped")
		w.finish(ctx, job.ID, "completed", "skipped: no handler registered", "")
		w.bump(func(s *RunStats) { s.Skipped++ })
		return
	}

	result, err := runHandler(ctx, handler, payload)
	if err != nil {
		w.settleFailure(ctx, job, err, logger)
		return
	}

	detail := result.Detail
	if result.Skipped {
		if detail == "" {
			detail = "skipped"
		}
		w.bump(func(s *RunStats) { s.Skipped++ })
	} else {
		w.bump(func(s *RunStats) { s.Completed++ })
	}
	w.finish(ctx, job.ID, "completed", detail, "")
	logger.Info().Bool("skipped", result.Skipped).Msg("job completed")
}

// runHandler converts handler panics into errors so one bad payload can
// never take the loop down.
func runHandler(ctx context.Context, handler Handler, payload Payload) (result HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (w *Worker) settleFailure(ctx context.Context, job *claimedJob, handlerErr error, logger zerolog.Logger) {
	category := Classify(handlerErr)
	policy := category.Policy()

	if policy.MaxAttempts > 0 && job.Attempts < policy.MaxAttempts {
		runAfter := globaltime.UTC().Add(policy.Cooldown)
		w.reschedule(ctx, job.ID, runAfter, handlerErr.Error(), string(category))
		w.bump(func(s *RunStats) { s.Rescheduled++ })
		logger.Warn().
			Err(handlerErr).
			Str("category", string(category)).
			Int("attempts", job.Attempts).
			Time("run_after", runAfter).
			Msg("job rescheduled")
		return
	}

	w.finish(ctx, job.ID, "failed", handlerErr.Error(), string(category))
	w.bump(func(s *RunStats) { s.Failed++ })
	logger.Error().
		Err(handlerErr).
		Str("category", string(category)).
		Int("attempts", job.Attempts).
		Msg("job permanently failed")
}

func (w *Worker) finish(ctx context.Context, jobID int64, status, detail, category string) {
	now := globaltime.UTC()
	_, err := w.pool.Exec(ctx, `
UPDATE news.jobs
SET status = $1,
    finished_at = $2,
    updated_at = $2,
    last_error = NULLIF($3, ''),
    error_category = NULLIF($4, '')
WHERE job_id = $5
`, status, now, detail, category, jobID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", jobID).Msg("finish job failed")
	}
}

func (w *Worker) reschedule(ctx context.Context, jobID int64, runAfter time.Time, lastError, category string) {
	now := globaltime.UTC()
	_, err := w.pool.Exec(ctx, `
UPDATE news.jobs
SET status = 'pending',
    run_after = $1,
    claimed_by = NULL,
    claimed_at = NULL,
    updated_at = $2,
    last_error = $3,
    error_category = $4
WHERE job_id = $5
`, runAfter, now, lastError, category, jobID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", jobID).Msg("reschedule job failed")
	}
}

// resetStuckJobs returns processing rows that outlived the stuck timeout
// to pending. Covers workers killed mid-job.
func (w *Worker) resetStuckJobs(ctx context.Context) (int, error) {
	now := globaltime.UTC()
	cutoff := now.Add(-w.opts.StuckTimeout)
	tag, err := w.pool.Exec(ctx, `
UPDATE news.jobs
SET status = 'pending',
    claimed_by = NULL,
    claimed_at = NULL,
    updated_at = $1,
    last_error = 'reset: stuck in processing'
WHERE status = 'processing'
  AND claimed_at < $2
`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
