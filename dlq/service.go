package dlq

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a failed job and persists it.
// The error string is captured from the final handler error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:           id.NewDLQID(),
		JobID:        j.ID,
		JobType:      j.Type,
		UserID:       j.UserID,
		Payload:      j.Payload,
		Error:        jobErr.Error(),
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Backoff:      j.Backoff,
		FailedAt:     now,
		CreatedAt:    now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// List returns DLQ entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Purge removes entries that failed before the cutoff.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// DLQStore returns the underlying DLQ store for direct access
// to Get and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
