// Package dlq provides the dead letter queue for jobs that failed
// terminally. It supports inspection, replay, and purging.
//
// When a job fails permanently or exhausts MaxAttempts, the executor
// calls [Service.Push] to record it. The original payload, error message,
// and attempt counts are preserved for debugging.
//
// # Replay
//
// Replaying an entry re-enqueues the original job type with the same
// payload and a fresh attempt budget, then sets ReplayedAt on the entry.
// Replaying a send job debits balance again for every recipient it
// reaches.
//
// # Retention
//
// Entries are purged by the retention sweeper once FailedAt falls
// outside the configured TTL.
package dlq
