// Package message records every delivery attempt that was billed. A row
// is reserved before the transport call, so the numeric id that send
// results report as MessageID exists before the message leaves.
package message

import (
	"context"
	"time"
)

// Status is the delivery state of a recorded message.
type Status string

const (
	// StatusPending is a reserved row whose transport call has not returned.
	StatusPending Status = "pending"
	// StatusSent is a message the provider accepted.
	StatusSent Status = "sent"
	// StatusFailed is a message the provider rejected; its debit was refunded.
	StatusFailed Status = "failed"
)

// Message is one billed delivery.
type Message struct {
	ID          int64      `json:"id"`
	JobID       string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Channel     string     `json:"channel"`
	Kind        string     `json:"kind"`
	ContactRef  string     `json:"contact_ref,omitempty"`
	Destination string     `json:"destination"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Cost        int64      `json:"cost"`
	Status      Status     `json:"status"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// ListOpts controls pagination for message queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// Log is the persistence contract for the message log.
type Log interface {
	// RecordMessage stores m and returns its newly assigned positive id.
	// An empty Status is stored as StatusPending.
	RecordMessage(ctx context.Context, m *Message) (int64, error)

	// MarkMessage moves message id to status. providerRef is kept for
	// StatusSent, which also stamps SentAt. An unknown id returns
	// herald.ErrMessageNotFound.
	MarkMessage(ctx context.Context, id int64, status Status, providerRef string) error

	// ListMessages returns a user's messages, newest first.
	ListMessages(ctx context.Context, userID string, opts ListOpts) ([]*Message, error)
}
