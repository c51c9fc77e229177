package memory

import (
	"context"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ledger"
)

type balanceKey struct {
	userID  string
	channel ledger.Channel
}

// DebitBalance subtracts d.Amount under the store lock when the balance
// is active and covers it.
func (m *Store) DebitBalance(_ context.Context, d ledger.Debit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[balanceKey{d.UserID, d.Channel}]
	if !ok || b.Status != ledger.StatusActive || b.Amount < d.Amount {
		return herald.ErrInsufficientBalance
	}
	b.Amount -= d.Amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// CreditBalance adds d.Amount, creating an active balance if needed.
func (m *Store) CreditBalance(_ context.Context, d ledger.Debit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{d.UserID, d.Channel}
	b, ok := m.balances[key]
	if !ok {
		b = &ledger.Balance{UserID: d.UserID, Channel: d.Channel, Status: ledger.StatusActive}
		m.balances[key] = b
	}
	b.Amount += d.Amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// GetBalance returns a copy of the balance row.
func (m *Store) GetBalance(_ context.Context, userID string, channel ledger.Channel) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[balanceKey{userID, channel}]
	if !ok {
		return nil, herald.ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

// SetBalanceStatus changes the status of an existing balance.
func (m *Store) SetBalanceStatus(_ context.Context, userID string, channel ledger.Channel, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[balanceKey{userID, channel}]
	if !ok {
		return herald.ErrBalanceNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	return nil
}
