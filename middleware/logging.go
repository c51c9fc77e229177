package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald/job"
)

// Logging records each attempt with the send it carries. A failure that
// will be retried logs at Warn; a final or permanent one at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := labelsOf(j)
		attrs := []any{
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
			slog.String("user_id", j.UserID),
			slog.Int("attempt", j.AttemptsMade),
			slog.Int("max_attempts", j.MaxAttempts),
		}
		if l.channel != "" {
			attrs = append(attrs,
				slog.String("channel", l.channel),
				slog.String("kind", l.kind),
				slog.Int("recipients", l.recipients),
			)
		}
		if l.groupID != "" {
			attrs = append(attrs, slog.String("group_id", l.groupID))
		}
		logger.Debug("send attempt started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs,
			slog.Duration("elapsed", time.Since(start)),
			slog.String("outcome", Classify(err)),
		)

		switch {
		case err == nil:
			logger.Info("send attempt succeeded", attrs...)
		case willRetry(j, err):
			logger.Warn("send attempt failed, will retry", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.Error("send attempt failed", append(attrs,
				slog.Bool("permanent", job.IsPermanent(err)),
				slog.String("error", err.Error()),
			)...)
		}
		return err
	}
}
