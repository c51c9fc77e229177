// Package herald provides the asynchronous send pipeline of a multi-tenant
// SMS and email backend: balance-gated, job-queue-backed dispatch to
// external transports with bounded per-type concurrency, retry with
// backoff, and per-recipient partial-failure accounting.
//
// Herald is a library first. Build an engine over a store, register the
// send handlers, and enqueue sends through the façade:
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithQueueConfig(queue.Config{Type: send.TypeContact, Concurrency: 10}),
//	)
//	send.Register(eng, send.Deps{...})
//	f := facade.New(eng)
//	res, err := facade.DispatchAndWait[send.ContactResult](ctx, f, send.TypeContact, payload)
//
// # Architecture
//
// Each subsystem (job, dlq, ledger, recipient) defines its own store
// interface. The memory and postgres backends implement all of them; the
// redis backend holds only jobs, dead letters and balances. Background
// work such as retention sweeps runs as jobs too.
//
// All job identifiers use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package herald
