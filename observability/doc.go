// Package observability provides an OpenTelemetry metrics extension for
// Herald. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, completion, failure, retry and
// DLQ events, per-recipient send outcomes, spent balance, and retention
// sweeps.
//
// Per-attempt spans and outcome-classified attempt metrics live in the
// middleware package instead.
package observability
