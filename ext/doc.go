// Package ext defines the extension system for herald.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, or waking callers blocked in
// the synchronous façade. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker began executing the job
//   - [JobProgress]: handler reported a higher progress value
//   - [JobCompleted]: job finished successfully
//   - [JobFailed]: job failed with no attempts remaining
//   - [JobRetrying]: attempt failed, another is scheduled
//   - [JobDLQ]: job was moved to the dead letter queue
//
// # Send Hooks
//
//   - [MessageSent]: a recipient was debited and the transport accepted
//   - [MessageFailed]: a recipient failed on balance or transport
//
// # Other Hooks
//
//   - [RetentionSwept]: old jobs and DLQ entries were purged
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
