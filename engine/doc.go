// Package engine wires the Herald subsystems together and provides the
// application-level API for registering and enqueuing work.
//
// The engine package exists to break an import cycle: the root herald
// package defines Entity, Config and the error sentinels imported by job,
// dlq, ledger and the rest, so it cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer (send, importer, facade, api).
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithLogger(logger),
//	    engine.WithQueueConfig(queue.Config{
//	        Type:        send.TypeContact,
//	        Concurrency: 10,
//	        Attempts:    3,
//	        Backoff:     backoff.ExponentialPolicy(time.Second, time.Minute),
//	    }),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("resize", ResizeImage))
//
// Handler packages register their own job types:
//
//	send.Register(eng, deps)
//	importer.Register(eng, contacts, logger)
//
// # Enqueuing Jobs
//
//	j, err := engine.Enqueue(ctx, eng, send.TypeContact, payload,
//	    job.WithUser("user_123"),
//	)
//
// Defaults for attempts, backoff and timeout come from the type's
// queue.Config; options override them per job.
//
// # Options
//
//   - [WithStore]: set the job and DLQ backend
//   - [WithConfig]: poll, heartbeat and shutdown settings
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithQueueConfig]: per-type concurrency, rate limits and retries
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
