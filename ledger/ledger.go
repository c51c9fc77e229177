// Package ledger holds per-user, per-channel prepaid balances and applies
// debits atomically. A debit either removes the whole amount or fails
// with herald.ErrInsufficientBalance and changes nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
)

// Channel is the balance pool a send is billed against.
type Channel string

const (
	ChannelIndividual Channel = "individual"
	ChannelCompany    Channel = "company"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelIndividual || c == ChannelCompany
}

// ParseChannel maps a request string to a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown balance channel %q", herald.ErrValidation, s)
	}
	return c, nil
}

// Status is the lifecycle flag of a balance row. Only active balances
// can be debited.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Balance is the stored amount for one (user, channel) pair, in minor
// currency units.
type Balance struct {
	UserID    string    `json:"user_id"`
	Channel   Channel   `json:"channel"`
	Amount    int64     `json:"amount"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Debit is a request to move Amount out of (or back into) a balance.
type Debit struct {
	UserID  string  `json:"user_id"`
	Channel Channel `json:"channel"`
	Amount  int64   `json:"amount"`
}

// Estimate is a read-only projection of whether a send of count messages
// at unitCost each would currently be covered. It reserves nothing: a
// concurrent send may spend the balance before the estimated send runs,
// in which case the per-recipient debit is what fails.
type Estimate struct {
	CanSend        bool  `json:"can_send"`
	CurrentBalance int64 `json:"current_balance"`
	RequiredCost   int64 `json:"required_cost"`
	Deficit        int64 `json:"deficit"`
}

// Store is the persistence contract for balances.
type Store interface {
	// DebitBalance subtracts d.Amount in a single conditional update that
	// only matches an active row holding at least d.Amount. When nothing
	// matches it returns herald.ErrInsufficientBalance.
	DebitBalance(ctx context.Context, d Debit) error

	// CreditBalance adds d.Amount, creating an active row if none exists.
	CreditBalance(ctx context.Context, d Debit) error

	// GetBalance returns the balance row or herald.ErrBalanceNotFound.
	GetBalance(ctx context.Context, userID string, channel Channel) (*Balance, error)

	// SetBalanceStatus changes the status flag of an existing row.
	SetBalanceStatus(ctx context.Context, userID string, channel Channel, status Status) error
}

// Ledger validates balance operations and delegates them to a Store.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a Ledger over store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

func validate(d Debit) error {
	if d.UserID == "" {
		return fmt.Errorf("%w: user id is required", herald.ErrValidation)
	}
	if !d.Channel.Valid() {
		return fmt.Errorf("%w: unknown balance channel %q", herald.ErrValidation, d.Channel)
	}
	if d.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", herald.ErrValidation, d.Amount)
	}
	return nil
}

// Debit removes d.Amount from the balance or fails with
// herald.ErrInsufficientBalance. The balance must exist and be active
// even when the amount is zero.
func (l *Ledger) Debit(ctx context.Context, d Debit) error {
	if err := validate(d); err != nil {
		return err
	}
	if err := l.store.DebitBalance(ctx, d); err != nil {
		if errors.Is(err, herald.ErrInsufficientBalance) {
			l.logger.Debug("debit rejected",
				slog.String("user_id", d.UserID),
				slog.String("channel", string(d.Channel)),
				slog.Int64("amount", d.Amount),
			)
			return err
		}
		return fmt.Errorf("debit balance: %w", err)
	}
	return nil
}

// Credit adds d.Amount to the balance.
func (l *Ledger) Credit(ctx context.Context, d Debit) error {
	if err := validate(d); err != nil {
		return err
	}
	if d.Amount == 0 {
		return nil
	}
	if err := l.store.CreditBalance(ctx, d); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// Refund gives back a debit whose message was never delivered.
func (l *Ledger) Refund(ctx context.Context, d Debit) error {
	if err := l.Credit(ctx, d); err != nil {
		l.logger.Error("refund failed",
			slog.String("user_id", d.UserID),
			slog.String("channel", string(d.Channel)),
			slog.Int64("amount", d.Amount),
			slog.String("error", err.Error()),
		)
		return err
	}
	l.logger.Info("debit refunded",
		slog.String("user_id", d.UserID),
		slog.String("channel", string(d.Channel)),
		slog.Int64("amount", d.Amount),
	)
	return nil
}

// Balance returns the current balance row.
func (l *Ledger) Balance(ctx context.Context, userID string, channel Channel) (*Balance, error) {
	return l.store.GetBalance(ctx, userID, channel)
}

// Suspend blocks further debits against the balance.
func (l *Ledger) Suspend(ctx context.Context, userID string, channel Channel) error {
	return l.store.SetBalanceStatus(ctx, userID, channel, StatusSuspended)
}

// Activate re-enables debits against the balance.
func (l *Ledger) Activate(ctx context.Context, userID string, channel Channel) error {
	return l.store.SetBalanceStatus(ctx, userID, channel, StatusActive)
}

// Estimate reports whether count messages at unitCost each are covered
// by the current balance. A missing or suspended balance counts as zero.
func (l *Ledger) Estimate(ctx context.Context, userID string, channel Channel, count int, unitCost int64) (Estimate, error) {
	if count < 0 || unitCost < 0 {
		return Estimate{}, fmt.Errorf("%w: count and unit cost must be non-negative", herald.ErrValidation)
	}
	if !channel.Valid() {
		return Estimate{}, fmt.Errorf("%w: unknown balance channel %q", herald.ErrValidation, channel)
	}

	var current int64
	bal, err := l.store.GetBalance(ctx, userID, channel)
	switch {
	case err == nil:
		if bal.Status == StatusActive {
			current = bal.Amount
		}
	case errors.Is(err, herald.ErrBalanceNotFound):
	default:
		return Estimate{}, fmt.Errorf("estimate: %w", err)
	}

	required := int64(count) * unitCost
	est := Estimate{
		CanSend:        current >= required,
		CurrentBalance: current,
		RequiredCost:   required,
	}
	if !est.CanSend {
		est.Deficit = required - current
	}
	return est, nil
}
