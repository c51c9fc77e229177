// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, conditional balance debits, ordered
// group membership, embedded goose migrations.
package postgres
