package retention

import (
	"context"
	"fmt"
	"log/slog"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/herald"
	"github.com/xraph/herald/job"
)

// EnqueueFunc enqueues a job. (*engine.Engine).EnqueueRaw satisfies it.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: retention schedule %q: %v", herald.ErrValidation, expr, err)
	}
	return sched, nil
}

// Scheduler enqueues a retention-sweep job on a cron schedule.
type Scheduler struct {
	cron    *cronlib.Cron
	enqueue EnqueueFunc
	expr    string
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler for the cron expression expr.
func NewScheduler(enqueue EnqueueFunc, expr string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:    cronlib.New(cronlib.WithParser(cronParser)),
		enqueue: enqueue,
		expr:    expr,
		logger:  logger,
	}
	s.cron.Schedule(sched, cronlib.FuncJob(s.fire))
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("retention scheduler started", slog.String("schedule", s.expr))
	return nil
}

// Stop stops the schedule and waits for a running fire to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("retention scheduler stopped")
	return nil
}

func (s *Scheduler) fire() {
	j, err := s.enqueue(context.Background(), TypeSweep, []byte("{}"))
	if err != nil {
		s.logger.Error("retention sweep enqueue failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("retention sweep enqueued", slog.String("job_id", j.ID.String()))
}
