// Package redis implements store.Queue on Redis for deployments that want
// the job queue, dead letters and balances off the relational database.
//
// Jobs are Hashes. Each job type has a waiting Sorted Set scored by run_at
// in milliseconds, so a dequeue is a range scan over the types a worker
// serves. Claiming, balance debits and progress bumps run as Lua scripts
// and are therefore atomic on the server.
//
// Contacts, groups and the message log are not stored here; pair this
// backend with postgres for those.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
