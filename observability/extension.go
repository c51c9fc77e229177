package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobDLQ         = (*MetricsExtension)(nil)
	_ ext.MessageSent    = (*MetricsExtension)(nil)
	_ ext.MessageFailed  = (*MetricsExtension)(nil)
	_ ext.RetentionSwept = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/herald/observability"

// MetricsExtension records system-wide lifecycle metrics with OTel
// counters. Register it as a Herald extension to track enqueue rates,
// completion counts, failure rates, retry counts, DLQ entries, message
// outcomes and spent balance.
type MetricsExtension struct {
	JobEnqueued    metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobRetried     metric.Int64Counter
	JobDLQ         metric.Int64Counter
	MessageSent    metric.Int64Counter
	MessageFailed  metric.Int64Counter
	BalanceSpent   metric.Int64Counter
	RetentionPurge metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit)) //nolint:errcheck // noop on error
		return c
	}
	return &MetricsExtension{
		JobEnqueued:    counter("herald.job.enqueued", "Jobs enqueued", "{job}"),
		JobCompleted:   counter("herald.job.completed", "Jobs completed", "{job}"),
		JobFailed:      counter("herald.job.failed", "Jobs failed terminally", "{job}"),
		JobRetried:     counter("herald.job.retried", "Job attempts scheduled for retry", "{job}"),
		JobDLQ:         counter("herald.job.dlq", "Jobs moved to the dead letter queue", "{job}"),
		MessageSent:    counter("herald.message.sent", "Messages accepted by a transport", "{message}"),
		MessageFailed:  counter("herald.message.failed", "Recipients that could not be served", "{message}"),
		BalanceSpent:   counter("herald.balance.spent", "Balance debited for delivered messages", "{unit}"),
		RetentionPurge: counter("herald.retention.purged", "Rows removed by the retention sweeper", "{row}"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

func sendAttrs(ev ext.SendEvent) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_type", ev.JobType),
		attribute.String("channel", ev.Channel),
		attribute.String("kind", ev.Kind),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnMessageSent implements ext.MessageSent.
func (m *MetricsExtension) OnMessageSent(ctx context.Context, ev ext.SendEvent) error {
	attrs := sendAttrs(ev)
	m.MessageSent.Add(ctx, 1, attrs)
	if ev.Cost > 0 {
		m.BalanceSpent.Add(ctx, ev.Cost, attrs)
	}
	return nil
}

// OnMessageFailed implements ext.MessageFailed.
func (m *MetricsExtension) OnMessageFailed(ctx context.Context, ev ext.SendEvent) error {
	m.MessageFailed.Add(ctx, 1, sendAttrs(ev))
	return nil
}

// OnRetentionSwept implements ext.RetentionSwept.
func (m *MetricsExtension) OnRetentionSwept(ctx context.Context, jobs, dlqEntries int64) error {
	m.RetentionPurge.Add(ctx, jobs, metric.WithAttributes(attribute.String("table", "jobs")))
	m.RetentionPurge.Add(ctx, dlqEntries, metric.WithAttributes(attribute.String("table", "dlq")))
	return nil
}
