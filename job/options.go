package job

import (
	"time"

	"github.com/xraph/herald/backoff"
)

// Options configures per-job behavior. The engine seeds it from the
// job type's queue configuration before applying caller options.
type Options struct {
	// MaxAttempts is the total number of executions allowed, first run
	// included. Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the delay policy between attempts.
	Backoff backoff.Policy

	// Timeout is the maximum duration a single attempt may run. Zero means
	// unlimited.
	Timeout time.Duration

	// RunAt schedules the first attempt. Zero means immediate.
	RunAt time.Time

	// UserID is the tenant the job runs on behalf of.
	UserID string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 1,
		Backoff:     backoff.DefaultPolicy(),
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option applied at enqueue time.
type Option func(*Options)

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithBackoff sets the retry delay policy.
func WithBackoff(p backoff.Policy) Option {
	return func(o *Options) {
		o.Backoff = p
	}
}

// WithTimeout sets the maximum execution duration of one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithUser tags the job with the tenant it runs for.
func WithUser(userID string) Option {
	return func(o *Options) {
		o.UserID = userID
	}
}

// Apply applies opts to a copy of o and returns it.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
