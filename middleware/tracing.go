package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/job"
)

// scopeName is the instrumentation scope for herald spans and metrics.
const scopeName = "github.com/xraph/herald"

// Tracing traces attempts with the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(scopeName))
}

// TracingWithTracer opens one span per attempt named "herald.<job type>".
// Send jobs add herald.channel, herald.kind and herald.recipients. The
// span ends with herald.outcome set to the Classify result and
// herald.final_attempt telling whether the worker will give up on the job.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("herald.job.id", j.ID.String()),
			attribute.String("herald.user_id", j.UserID),
			attribute.Int("herald.attempt", j.AttemptsMade),
		}
		if l := labelsOf(j); l.channel != "" {
			attrs = append(attrs,
				attribute.String("herald.channel", l.channel),
				attribute.String("herald.kind", l.kind),
				attribute.Int("herald.recipients", l.recipients),
			)
		}
		ctx, span := tracer.Start(ctx, "herald."+j.Type,
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(
			attribute.String("herald.outcome", Classify(err)),
			attribute.Bool("herald.final_attempt", err != nil && !willRetry(j, err)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Classify(err))
		}
		return err
	}
}
