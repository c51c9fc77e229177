package store

import (
	"context"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/message"
	"github.com/xraph/herald/recipient"
)

// Store is the aggregate persistence interface.
// A full backend (memory, postgres) implements every subsystem store.
type Store interface {
	job.Store
	dlq.Store
	ledger.Store
	recipient.Directory
	recipient.Writer
	message.Log

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Queue is the subset a queue-only backend provides: jobs, dead letters
// and balances. The redis backend implements it.
type Queue interface {
	job.Store
	dlq.Store
	ledger.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
