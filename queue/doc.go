// Package queue defines per-type lane configuration and rate limiting.
//
// Every job type is its own queue. Jobs of one type are claimed in
// approximately FIFO order, and each type runs in an independent lane
// whose width is [Config.Concurrency], so heavy batch sends never starve
// single-contact sends.
//
// # Per-Type Configuration
//
//	queue.Config{
//	    Type:        "send-to-group",
//	    Concurrency: 2,     // at most 2 group sends at once
//	    RateLimit:   5,     // at most 5 group sends started per second
//	    Attempts:    1,
//	    Backoff:     backoff.FixedPolicy(5 * time.Second),
//	}
//
// Pass configs when building the engine:
//
//	engine.New(
//	    engine.WithQueueConfig(
//	        queue.Config{Type: "send-to-contact", Concurrency: 10, Attempts: 3},
//	        queue.Config{Type: "send-to-group", Concurrency: 2},
//	    ),
//	)
//
// # Manager
//
// [Manager] hands out the configuration for each lane, supplies
// enqueue defaults via [Config.JobOptions], and paces lanes with a
// token-bucket limiter (golang.org/x/time/rate) through [Manager.Wait].
package queue
