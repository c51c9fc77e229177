// Package ext defines the extension system for herald.
// Extensions are notified of lifecycle events (job enqueued, completed,
// failed, message sent, etc.) and can react to them: logging, metrics,
// waking synchronous callers.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/herald/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called after a handler reports a new progress value.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, pct int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more attempts).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when an attempt fails and another is scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Send hooks
// ──────────────────────────────────────────────────

// SendEvent describes one delivery attempt to one recipient.
type SendEvent struct {
	JobType     string
	UserID      string
	Channel     string
	Kind        string
	Destination string
	Cost        int64
	MessageID   int64
	Err         error
}

// MessageSent is called after a message is accepted by the transport.
type MessageSent interface {
	OnMessageSent(ctx context.Context, ev SendEvent) error
}

// MessageFailed is called when a recipient could not be served, whether
// from insufficient balance or a transport error.
type MessageFailed interface {
	OnMessageFailed(ctx context.Context, ev SendEvent) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RetentionSwept is called after the retention sweeper purges old jobs
// and DLQ entries.
type RetentionSwept interface {
	OnRetentionSwept(ctx context.Context, jobs, dlqEntries int64) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
