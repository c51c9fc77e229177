// Package job defines the job entity, state machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [herald.Entity] for
// timestamps, carries a JSON payload, and progresses through a small
// state machine:
//
//	waiting → active → completed
//	waiting → active → waiting (retry, RunAt = now + backoff delay)
//	waiting → active → failed
//
// Fields of note:
//   - Type: the registered handler and the queue lane
//   - MaxAttempts / AttemptsMade: the attempt budget, first run included
//   - Backoff: the persisted delay policy used between attempts
//   - Progress: advisory 0..100, never decreases while active
//   - Result: the handler's JSON result once completed
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs; the returned
// value becomes the job result:
//
//	var SendToContact = job.NewDefinition("send-to-contact",
//	    func(ctx context.Context, in ContactPayload) (ContactResult, error) {
//	        ...
//	    },
//	)
//
// Handlers return errors wrapped with [Permanent] to skip remaining
// attempts, and call [ReportProgress] to publish progress.
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition].
package job
