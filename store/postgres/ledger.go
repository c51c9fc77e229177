package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ledger"
)

// DebitBalance subtracts d.Amount in one conditional UPDATE. The row lock
// taken by the UPDATE serialises concurrent debits of the same balance.
func (s *Store) DebitBalance(ctx context.Context, d ledger.Debit) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_balances
		SET amount = amount - $3, updated_at = NOW()
		WHERE user_id = $1 AND channel = $2
		  AND status = 'active'
		  AND amount >= $3`,
		d.UserID, string(d.Channel), d.Amount,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrInsufficientBalance
	}
	return nil
}

// CreditBalance adds d.Amount, creating an active row if needed.
func (s *Store) CreditBalance(ctx context.Context, d ledger.Debit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO herald_balances (user_id, channel, amount, status, updated_at)
		VALUES ($1, $2, $3, 'active', NOW())
		ON CONFLICT (user_id, channel)
		DO UPDATE SET amount = herald_balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		d.UserID, string(d.Channel), d.Amount,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: credit balance: %w", err)
	}
	return nil
}

// GetBalance returns the balance row.
func (s *Store) GetBalance(ctx context.Context, userID string, channel ledger.Channel) (*ledger.Balance, error) {
	var (
		b         ledger.Balance
		channelS  string
		statusStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, channel, amount, status, updated_at
		FROM herald_balances
		WHERE user_id = $1 AND channel = $2`,
		userID, string(channel),
	).Scan(&b.UserID, &channelS, &b.Amount, &statusStr, &b.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get balance: %w", err)
	}
	b.Channel = ledger.Channel(channelS)
	b.Status = ledger.Status(statusStr)
	return &b, nil
}

// SetBalanceStatus changes the status flag of an existing row.
func (s *Store) SetBalanceStatus(ctx context.Context, userID string, channel ledger.Channel, status ledger.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_balances SET status = $3, updated_at = NOW()
		WHERE user_id = $1 AND channel = $2`,
		userID, string(channel), string(status),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: set balance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrBalanceNotFound
	}
	return nil
}
