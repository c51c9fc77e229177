package memory

import (
	"context"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/message"
)

// RecordMessage appends m to the log and assigns the next id.
func (m *Store) RecordMessage(_ context.Context, msg *message.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMsg++
	cp := *msg
	cp.ID = m.nextMsg
	if cp.Status == "" {
		cp.Status = message.StatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.messages = append(m.messages, &cp)
	msg.ID = cp.ID
	return cp.ID, nil
}

// MarkMessage updates the status of a recorded message.
func (m *Store) MarkMessage(_ context.Context, msgID int64, status message.Status, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ids are assigned densely from one.
	if msgID < 1 || msgID > int64(len(m.messages)) {
		return herald.ErrMessageNotFound
	}
	msg := m.messages[msgID-1]
	msg.Status = status
	if status == message.StatusSent {
		now := time.Now().UTC()
		msg.ProviderRef = providerRef
		msg.SentAt = &now
	}
	return nil
}

// ListMessages returns a user's messages, newest first.
func (m *Store) ListMessages(_ context.Context, userID string, opts message.ListOpts) ([]*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*message.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].UserID != userID {
			continue
		}
		cp := *m.messages[i]
		result = append(result, &cp)
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}
