package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/herald/job"
)

// Metrics records attempts with the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(scopeName))
}

// MetricsWithMeter records, per attempt:
//   - herald.attempt.duration: seconds spent in the handler
//   - herald.attempts: attempts run
//   - herald.send.recipients: recipients carried by successful send attempts
//
// Every point carries job_type and outcome; send jobs add channel.
// Instrument creation errors leave the noop instruments the API returns.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram("herald.attempt.duration",
		metric.WithDescription("Time spent running one send attempt"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter("herald.attempts",
		metric.WithDescription("Send attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	recipients, _ := meter.Int64Counter("herald.send.recipients",
		metric.WithDescription("Recipients handled by successful send attempts"),
		metric.WithUnit("{recipient}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		l := labelsOf(j)
		kv := []attribute.KeyValue{
			attribute.String("job_type", j.Type),
			attribute.String("outcome", Classify(err)),
		}
		if l.channel != "" {
			kv = append(kv, attribute.String("channel", l.channel))
		}
		set := metric.WithAttributes(kv...)
		duration.Record(ctx, elapsed, set)
		attempts.Add(ctx, 1, set)
		if err == nil && l.recipients > 0 {
			recipients.Add(ctx, int64(l.recipients), set)
		}
		return err
	}
}
