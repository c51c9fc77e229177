// Package audithook is a herald extension that turns pipeline lifecycle
// events into audit records.
//
// Job transitions, per-recipient deliveries and retention sweeps each
// emit an [AuditEvent] through the [Recorder] interface. Severity follows
// the event: info for normal operations, warning for retries and failed
// recipients, critical for jobs that end in failure or the dead letter
// queue. Records carry the tenant, the job type and, for deliveries, the
// channel, destination and cost.
//
// # Logging recorder
//
//	eng, _ := engine.New(
//	    engine.WithStore(s),
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionMessageSent,
//	        audithook.ActionMessageFailed,
//	        audithook.ActionJobDLQ,
//	    ),
//	)
package audithook
