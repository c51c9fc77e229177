package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// LaneManager supplies per-type lane widths and pacing. *queue.Manager
// implements it.
type LaneManager interface {
	// Config returns the lane configuration for a job type.
	Config(jobType string) queue.Config
	// Wait blocks until the type's rate limiter admits one more job.
	Wait(ctx context.Context, jobType string) error
	// Acquire marks one job of the type as running. It reports false
	// when the lane is full.
	Acquire(jobType string) bool
	// Release decrements the running count for the type.
	Release(jobType string)
}

// Pool manages one lane of worker goroutines per job type. Lanes poll
// independently, so a busy type never blocks another.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	lanes        LaneManager
	types        []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	stopCh     chan struct{}
	stopCtx    context.Context
	stopCancel context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolTypes sets the job types the pool runs lanes for.
func WithPoolTypes(types []string) PoolOption {
	return func(p *Pool) { p.types = types }
}

// WithLaneManager sets the per-type lane configuration and rate limits.
func WithLaneManager(m LaneManager) PoolOption {
	return func(p *Pool) { p.lanes = m }
}

// WithPollInterval sets how often idle lanes poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which active jobs
// without a heartbeat are considered abandoned and reaped. A zero value
// disables stale job reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		lanes:        queue.NewManager(),
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the lane goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stopCtx, p.stopCancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Any("types", p.types),
	)

	for _, jobType := range p.types {
		width := p.lanes.Config(jobType).Lanes()
		p.logger.Debug("lane starting",
			slog.String("job_type", jobType),
			slog.Int("concurrency", width),
		)
		for range width {
			p.wg.Add(1)
			go p.dequeueLoop(jobType)
		}
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all lanes to stop and waits for running jobs to finish.
// Batches run to completion. If ctx expires first, active jobs are
// cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.stopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each goroutine of a lane.
func (p *Pool) dequeueLoop(jobType string) {
	defer p.wg.Done()
	types := []string{jobType}
	// admitted carries a rate-limit admission across empty polls, so a
	// token is spent per started job and nothing is claimed while pacing.
	admitted := false

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if !admitted {
			if err := p.lanes.Wait(p.stopCtx, jobType); err != nil {
				return
			}
			admitted = true
		}

		jobs, err := p.store.DequeueJobs(context.Background(), types, p.workerID, 1)
		if err != nil {
			p.logger.Error("dequeue error",
				slog.String("job_type", jobType),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]

		if !p.lanes.Acquire(jobType) {
			// Lane shrank since start; hand the job back with a small delay.
			p.release(j, p.pollInterval)
			p.sleep()
			continue
		}

		admitted = false
		p.run(j)
		p.lanes.Release(jobType)
	}
}

func (p *Pool) run(j *job.Job) {
	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = job.WithAbort(ctx)
	p.trackJob(j.ID, cancel)

	execErr := p.executor.Execute(ctx, j)
	if execErr != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID)
	cancel()
}

// release returns a claimed but unstarted job to waiting. The claim did
// not execute the handler, so the attempt is given back.
func (p *Pool) release(j *job.Job, delay time.Duration) {
	j.State = job.StateWaiting
	j.RunAt = time.Now().UTC().Add(delay)
	j.WorkerID = id.WorkerID{}
	j.HeartbeatAt = nil
	j.StartedAt = nil
	if j.AttemptsMade > 0 {
		j.AttemptsMade--
	}
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to release claimed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reaps stale jobs whose heartbeat has expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ReapStaleJobs(context.Background())
		}
	}
}

// ReapStaleJobs finds active jobs whose worker stopped heartbeating and
// routes each through the executor's failure path: retried when
// attempts remain, failed terminally otherwise.
func (p *Pool) ReapStaleJobs(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if p.isTracked(j.ID) {
			continue
		}
		j.WorkerID = id.WorkerID{}
		lost := fmt.Errorf("%w: worker stopped responding", herald.ErrJobStale)
		_ = p.executor.Fail(ctx, j, lost) //nolint:errcheck // logged by the executor

		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("state", string(j.State)),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID id.JobID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID.String()] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID.String())
	p.activeMu.Unlock()
}

func (p *Pool) isTracked(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeJobs[jobID.String()]
	return ok
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
