package dlq

import (
	"time"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/id"
)

// Entry represents a job that failed terminally and was moved to the
// dead letter queue for inspection or replay.
type Entry struct {
	ID           id.DLQID       `json:"id"`
	JobID        id.JobID       `json:"job_id"`
	JobType      string         `json:"job_type"`
	UserID       string         `json:"user_id,omitempty"`
	Payload      []byte         `json:"payload"`
	Error        string         `json:"error"`
	AttemptsMade int            `json:"attempts_made"`
	MaxAttempts  int            `json:"max_attempts"`
	Backoff      backoff.Policy `json:"backoff"`
	FailedAt     time.Time      `json:"failed_at"`
	ReplayedAt   *time.Time     `json:"replayed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
