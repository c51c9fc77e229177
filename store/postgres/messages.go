package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/herald"
	"github.com/xraph/herald/message"
)

// RecordMessage stores a message row and returns its id.
func (s *Store) RecordMessage(ctx context.Context, m *message.Message) (int64, error) {
	if m.Status == "" {
		m.Status = message.StatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var msgID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO herald_messages (
			job_id, user_id, channel, kind, contact_ref, destination,
			subject, body, cost, status, provider_ref, created_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		m.JobID, m.UserID, m.Channel, m.Kind, m.ContactRef, m.Destination,
		m.Subject, m.Body, m.Cost, string(m.Status), m.ProviderRef, m.CreatedAt, m.SentAt,
	).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: record message: %w", err)
	}
	m.ID = msgID
	return msgID, nil
}

// MarkMessage updates the status of a recorded message.
func (s *Store) MarkMessage(ctx context.Context, msgID int64, status message.Status, providerRef string) error {
	var tag pgconn.CommandTag
	var err error
	if status == message.StatusSent {
		tag, err = s.pool.Exec(ctx, `
			UPDATE herald_messages
			SET status = $2, provider_ref = $3, sent_at = NOW()
			WHERE id = $1`,
			msgID, string(status), providerRef,
		)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE herald_messages SET status = $2 WHERE id = $1`,
			msgID, string(status),
		)
	}
	if err != nil {
		return fmt.Errorf("herald/postgres: mark message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrMessageNotFound
	}
	return nil
}

// ListMessages returns a user's messages, newest first.
func (s *Store) ListMessages(ctx context.Context, userID string, opts message.ListOpts) ([]*message.Message, error) {
	query := `
		SELECT id, job_id, user_id, channel, kind, contact_ref, destination,
		       subject, body, cost, status, provider_ref, created_at, sent_at
		FROM herald_messages
		WHERE user_id = $1
		ORDER BY id DESC`
	args := []any{userID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(
			&m.ID, &m.JobID, &m.UserID, &m.Channel, &m.Kind, &m.ContactRef, &m.Destination,
			&m.Subject, &m.Body, &m.Cost, &m.Status, &m.ProviderRef, &m.CreatedAt, &m.SentAt,
		); err != nil {
			return nil, fmt.Errorf("herald/postgres: scan message row: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate message rows: %w", err)
	}
	return msgs, nil
}
