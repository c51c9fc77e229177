package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/herald/job"
)

// Timeout bounds an attempt by the job's Timeout. Jobs with no Timeout
// run unbounded, and handlers that detach with job.Detach only see a
// forced stop. A deadline error is annotated with the limit that was
// hit unless the parent context was already done.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(attemptCtx)
		if !errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == nil || ctx.Err() != nil {
			return err
		}
		logger.Warn("send attempt hit its deadline",
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		return fmt.Errorf("attempt exceeded %s: %w", j.Timeout, err)
	}
}
