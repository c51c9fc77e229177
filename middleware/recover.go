package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/herald/job"
)

// Recover turns a handler panic into a permanent failure wrapping
// ErrHandlerPanic. A send may already have debited the balance, so the
// job is never retried.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			l := labelsOf(j)
			logger.Error("send handler panicked",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.String("user_id", j.UserID),
				slog.String("channel", l.channel),
				slog.Int("recipients", l.recipients),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = job.Permanent(fmt.Errorf("%w in %s: %v", ErrHandlerPanic, j.Type, r))
		}()
		return next(ctx)
	}
}
