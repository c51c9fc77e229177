package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type and R the result type; both must be
// JSON-serializable.
type Definition[T, R any] struct {
	// Type is the unique identifier for this job type. It doubles as the
	// name of the queue lane the job runs in.
	Type string

	// Handler processes the decoded payload and returns the job result.
	Handler func(ctx context.Context, payload T) (R, error)
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](jobType string, handler func(ctx context.Context, payload T) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{
		Type:    jobType,
		Handler: handler,
	}
}
