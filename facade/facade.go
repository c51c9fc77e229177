// Package facade lets request handlers run jobs either synchronously or
// asynchronously. DispatchAndWait enqueues a job and blocks until it is
// terminal; DispatchAsync returns a ticket at once and Status reports on
// it later. Any registered job type can be used either way.
//
// Waiters are woken by an extension hook when the job runs in this
// process. Jobs run by another process are picked up by polling the
// store.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// JobError reports a job that ended in the failed state.
type JobError struct {
	JobID    id.JobID
	Type     string
	Attempts int
	Message  string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("herald: job %s (%s) failed after %d attempt(s): %s", e.JobID, e.Type, e.Attempts, e.Message)
}

// Ticket identifies an asynchronously dispatched job.
type Ticket struct {
	JobID id.JobID  `json:"job_id"`
	Type  string    `json:"type"`
	State job.State `json:"state"`
}

// Status is a point-in-time view of a job for polling callers.
type Status struct {
	JobID       id.JobID        `json:"job_id"`
	Type        string          `json:"type"`
	State       job.State       `json:"state"`
	Progress    int             `json:"progress"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Facade dispatches jobs through an engine.
type Facade struct {
	eng          *engine.Engine
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{} // job id → wake channels
}

// New creates a Facade over eng and installs its wake-up hook.
func New(eng *engine.Engine) *Facade {
	f := &Facade{
		eng:          eng,
		pollInterval: eng.Config().WaitPollInterval,
		logger:       eng.Logger(),
		waiters:      make(map[string]map[chan struct{}]struct{}),
	}
	if f.pollInterval <= 0 {
		f.pollInterval = time.Second
	}
	eng.Extensions().Register(&waker{f: f})
	return f
}

// DispatchAsync enqueues a job and returns without waiting for it.
func DispatchAsync(ctx context.Context, f *Facade, jobType string, payload any, opts ...job.Option) (Ticket, error) {
	j, err := engine.Enqueue(ctx, f.eng, jobType, payload, opts...)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{JobID: j.ID, Type: j.Type, State: j.State}, nil
}

// DispatchAndWait enqueues a job and blocks until it completes or fails.
// A completed job's result is decoded into R; a failed job returns a
// *JobError. The wait is bounded only by ctx.
func DispatchAndWait[R any](ctx context.Context, f *Facade, jobType string, payload any, opts ...job.Option) (R, error) {
	t, err := DispatchAsync(ctx, f, jobType, payload, opts...)
	if err != nil {
		var zero R
		return zero, err
	}
	return Wait[R](ctx, f, t.JobID)
}

// Wait blocks until the job is terminal and decodes its result.
func Wait[R any](ctx context.Context, f *Facade, jobID id.JobID) (R, error) {
	var zero R
	j, err := f.await(ctx, jobID)
	if err != nil {
		return zero, err
	}
	if j.State == job.StateFailed {
		return zero, &JobError{JobID: j.ID, Type: j.Type, Attempts: j.AttemptsMade, Message: j.LastError}
	}

	var out R
	if len(j.Result) > 0 {
		if err := json.Unmarshal(j.Result, &out); err != nil {
			return zero, fmt.Errorf("decode result of job %s: %w", jobID, err)
		}
	}
	return out, nil
}

// Status returns the current state of a job.
func (f *Facade) Status(ctx context.Context, jobID id.JobID) (*Status, error) {
	j, err := f.eng.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Status{
		JobID:       j.ID,
		Type:        j.Type,
		State:       j.State,
		Progress:    j.Progress,
		Attempts:    j.AttemptsMade,
		MaxAttempts: j.MaxAttempts,
		Result:      j.Result,
		Error:       j.LastError,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}, nil
}

// await registers a waiter for jobID and returns the job once terminal.
func (f *Facade) await(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	key := jobID.String()
	wake := f.subscribe(key)
	defer f.unsubscribe(key, wake)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		// Checked after registering so a job that finished before the
		// waiter existed is still seen.
		j, err := f.eng.GetJob(ctx, jobID)
		switch {
		case err == nil:
			if j.State.Terminal() {
				return j, nil
			}
		case errors.Is(err, herald.ErrJobNotFound):
			return nil, err
		default:
			f.logger.Warn("facade: job lookup failed",
				slog.String("job_id", key),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-wake:
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// subscribe adds a wake channel for key. Any number of callers may wait
// on the same job.
func (f *Facade) subscribe(key string) chan struct{} {
	wake := make(chan struct{}, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.waiters[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		f.waiters[key] = set
	}
	set[wake] = struct{}{}
	return wake
}

func (f *Facade) unsubscribe(key string, wake chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.waiters[key]
	delete(set, wake)
	if len(set) == 0 {
		delete(f.waiters, key)
	}
}

func (f *Facade) notify(jobID id.JobID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.waiters[jobID.String()] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// waker is the extension that wakes waiters on terminal transitions.
type waker struct{ f *Facade }

func (w *waker) Name() string { return "facade-waker" }

func (w *waker) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	w.f.notify(j.ID)
	return nil
}

func (w *waker) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	w.f.notify(j.ID)
	return nil
}
