// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that runs
// one lane of worker goroutines per job type.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, then applies the state transition: completed, waiting for a
// retry, or failed with a DLQ entry.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs an active job through the middleware chain and handler.
// On success: marks completed with the result, emits JobCompleted.
// On failure with attempts remaining: back to waiting after the backoff
// delay, emits JobRetrying.
// On permanent failure or exhausted attempts: marks failed, pushes to
// the DLQ, emits JobFailed + JobDLQ.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	// State persistence must survive an attempt deadline.
	persistCtx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := job.Permanent(fmt.Errorf("%w: %q", herald.ErrNoHandler, j.Type))
		return e.Fail(persistCtx, j, err)
	}

	start := time.Now()

	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, j.Payload)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	runCtx := job.WithProgress(job.NewContext(ctx, j), e.progressFunc(j))
	err := e.mw(runCtx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.Fail(persistCtx, j, err)
	}

	return e.handleSuccess(persistCtx, j, result, elapsed)
}

// progressFunc persists monotonic progress for j and notifies extensions.
func (e *Executor) progressFunc(j *job.Job) job.ProgressFunc {
	return func(ctx context.Context, pct int) error {
		if pct <= j.Progress {
			return nil
		}
		j.Progress = pct
		if err := e.store.UpdateProgress(context.WithoutCancel(ctx), j.ID, pct); err != nil {
			e.logger.Warn("failed to record job progress",
				slog.String("job_id", j.ID.String()),
				slog.Int("progress", pct),
				slog.String("error", err.Error()),
			)
			return err
		}
		e.extensions.EmitJobProgress(ctx, j, pct)
		return nil
	}
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.Progress = 100
	j.LastError = ""
	j.FinishedAt = &now
	j.UpdatedAt = now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// Fail records a failed attempt of j. The job is retried when attempts
// remain and err is not permanent; otherwise it becomes terminally
// failed. The reaper also routes jobs abandoned by a dead worker here.
func (e *Executor) Fail(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	j.LastError = jobErr.Error()
	j.UpdatedAt = now

	if !job.IsPermanent(jobErr) && j.AttemptsLeft() {
		return e.scheduleRetry(ctx, j, jobErr, now)
	}

	return e.sendToDLQ(ctx, j, jobErr, now)
}

// scheduleRetry returns the job to waiting with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, jobErr error, now time.Time) error {
	delay := j.Backoff.Strategy().Delay(j.AttemptsMade)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateWaiting
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.AttemptsMade, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Type, j.AttemptsMade, j.MaxAttempts, jobErr)
}

// sendToDLQ marks the job as failed, pushes it to the DLQ, and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, jobErr error, now time.Time) error {
	j.State = job.StateFailed
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, jobErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, jobErr)
	e.extensions.EmitJobDLQ(ctx, j, jobErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts_made", j.AttemptsMade),
		slog.Bool("permanent", job.IsPermanent(jobErr)),
		slog.String("error", jobErr.Error()),
	)

	return jobErr
}
