// Package retention purges finished jobs and dead letter entries once
// they are older than their time-to-live.
//
// Sweeps are ordinary jobs of type retention-sweep, so they get the same
// retries, tracing and single-lane execution as every other job. A
// Scheduler enqueues one on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// TypeSweep is the job type of a retention sweep.
const TypeSweep = "retention-sweep"

// Config controls what a sweep removes.
type Config struct {
	// JobTTL is how long completed and failed jobs are kept after they
	// finish. Zero keeps them forever.
	JobTTL time.Duration

	// DLQTTL is how long dead letter entries are kept. Zero keeps them
	// forever.
	DLQTTL time.Duration
}

// JobPurger deletes terminal jobs. job.Store satisfies it.
type JobPurger interface {
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

// DLQPurger deletes dead letter entries. *dlq.Service satisfies it.
type DLQPurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Emitter is notified after each sweep. *ext.Registry satisfies it.
type Emitter interface {
	EmitRetentionSwept(ctx context.Context, jobs, dlqEntries int64)
}

// Result is the result of a retention-sweep job.
type Result struct {
	Jobs       int64 `json:"jobs"`
	DLQEntries int64 `json:"dlq_entries"`
}

// Sweeper performs retention sweeps.
type Sweeper struct {
	jobs    JobPurger
	dlq     DLQPurger
	emitter Emitter
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a Sweeper. emitter may be nil.
func NewSweeper(jobs JobPurger, dlq DLQPurger, emitter Emitter, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		jobs:    jobs,
		dlq:     dlq,
		emitter: emitter,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds the retention-sweep job type to eng.
func Register(eng *engine.Engine, cfg Config) *Sweeper {
	s := NewSweeper(eng.JobStore(), eng.DLQService(), eng.Extensions(), cfg, eng.Logger())
	engine.Register(eng, job.NewDefinition(TypeSweep, s.handle))
	eng.QueueManager().SetDefault(queue.Config{Type: TypeSweep, Concurrency: 1, Attempts: 1})
	return s
}

// Sweep removes everything past its TTL and reports how much went.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now().UTC()

	if s.config.JobTTL > 0 {
		n, err := s.jobs.PurgeJobs(ctx, now.Add(-s.config.JobTTL))
		if err != nil {
			return res, fmt.Errorf("%w: purge jobs: %v", herald.ErrQueueBackend, err)
		}
		res.Jobs = n
	}
	if s.config.DLQTTL > 0 {
		n, err := s.dlq.Purge(ctx, now.Add(-s.config.DLQTTL))
		if err != nil {
			return res, fmt.Errorf("%w: purge dlq: %v", herald.ErrQueueBackend, err)
		}
		res.DLQEntries = n
	}

	s.logger.Info("retention sweep finished",
		slog.Int64("jobs", res.Jobs),
		slog.Int64("dlq_entries", res.DLQEntries),
	)
	if s.emitter != nil {
		s.emitter.EmitRetentionSwept(ctx, res.Jobs, res.DLQEntries)
	}
	return res, nil
}

func (s *Sweeper) handle(ctx context.Context, _ struct{}) (Result, error) {
	return s.Sweep(ctx)
}
