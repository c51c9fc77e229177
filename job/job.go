package job

import (
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is queued and eligible once RunAt passes.
	// Jobs scheduled for retry are also waiting.
	StateWaiting State = "waiting"
	// StateActive means a worker has claimed the job and is executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully and Result is set.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts (or failed
	// permanently) and will not be retried.
	StateFailed State = "failed"
)

// Terminal reports whether no further transitions will happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a unit of asynchronous work. Type selects both the
// registered handler and the queue lane the job runs in.
type Job struct {
	herald.Entity

	ID           id.JobID       `json:"id"`
	Type         string         `json:"type"`
	Payload      []byte         `json:"payload"`
	State        State          `json:"state"`
	UserID       string         `json:"user_id,omitempty"`
	MaxAttempts  int            `json:"max_attempts"`
	AttemptsMade int            `json:"attempts_made"`
	Backoff      backoff.Policy `json:"backoff"`
	Progress     int            `json:"progress"`
	Result       []byte         `json:"result,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	WorkerID     id.WorkerID    `json:"worker_id,omitempty"`
	RunAt        time.Time      `json:"run_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	HeartbeatAt  *time.Time     `json:"heartbeat_at,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"`
}

// AttemptsLeft reports whether another execution is allowed after the
// current one.
func (j *Job) AttemptsLeft() bool {
	return j.AttemptsMade < j.MaxAttempts
}

// New builds a waiting job from opts. The caller fills in Payload.
func New(jobType string, opts Options) *Job {
	now := time.Now().UTC()
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	bo := opts.Backoff
	if bo.IsZero() {
		bo = backoff.DefaultPolicy()
	}
	return &Job{
		Entity:      herald.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		State:       StateWaiting,
		UserID:      opts.UserID,
		MaxAttempts: maxAttempts,
		Backoff:     bo,
		RunAt:       runAt,
		Timeout:     opts.Timeout,
	}
}
