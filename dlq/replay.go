package dlq

import (
	"context"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Replay re-enqueues a DLQ entry as a new waiting job and marks the
// entry as replayed. The new job gets a fresh ID, a fresh attempt
// budget, and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := job.New(entry.JobType, job.Options{
		MaxAttempts: entry.MaxAttempts,
		Backoff:     entry.Backoff,
		UserID:      entry.UserID,
	})
	j.Payload = entry.Payload

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface the error with the job.
		return j, err
	}

	return j, nil
}
