package job

import "context"

// ProgressFunc persists a progress percentage for the running job.
type ProgressFunc func(ctx context.Context, pct int) error

type progressKey struct{}

// WithProgress returns a context carrying fn as the progress reporter.
// The worker installs one per attempt.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress records pct (clamped to 0..100) for the job running in
// ctx. Progress is advisory: it is a no-op outside a worker, and failures
// to persist are swallowed so they never change the handler's outcome.
// Stores keep only values greater than the one already recorded.
func ReportProgress(ctx context.Context, pct int) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok || fn == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_ = fn(ctx, pct) //nolint:errcheck // advisory
}

// Percent returns round(done/total*100). A zero total reports 100.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return (done*200 + total) / (total * 2)
}

type jobKey struct{}

// NewContext returns a context carrying the running job.
func NewContext(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// FromContext returns the job installed by the worker, if any.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(jobKey{}).(*Job)
	return j, ok && j != nil
}
