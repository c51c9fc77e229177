package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ledger"
)

// debitScript subtracts ARGV[1] from an active balance only when it
// covers the amount. Returns 1 on success and 0 otherwise.
var debitScript = goredis.NewScript(`
local amount = tonumber(redis.call('HGET', KEYS[1], 'amount') or '')
if not amount then return 0 end
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then return 0 end
local d = tonumber(ARGV[1])
if amount < d then return 0 end
redis.call('HINCRBY', KEYS[1], 'amount', -d)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return 1
`)

// setStatusScript sets the status of an existing balance. Returns 0 when
// the balance does not exist.
var setStatusScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// DebitBalance atomically subtracts d.Amount if the balance is active and
// covers it.
func (s *Store) DebitBalance(ctx context.Context, d ledger.Debit) error {
	ok, err := debitScript.Run(ctx, s.client,
		[]string{balanceKey(d.UserID, string(d.Channel))},
		d.Amount, time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: debit balance: %w", err)
	}
	if ok == 0 {
		return herald.ErrInsufficientBalance
	}
	return nil
}

// CreditBalance adds d.Amount, creating an active balance if needed.
func (s *Store) CreditBalance(ctx context.Context, d ledger.Debit) error {
	key := balanceKey(d.UserID, string(d.Channel))
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "status", string(ledger.StatusActive))
	pipe.HIncrBy(ctx, key, "amount", d.Amount)
	pipe.HSet(ctx, key,
		"user_id", d.UserID,
		"channel", string(d.Channel),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: credit balance: %w", err)
	}
	return nil
}

// GetBalance returns the balance for a user and channel.
func (s *Store) GetBalance(ctx context.Context, userID string, channel ledger.Channel) (*ledger.Balance, error) {
	vals, err := s.client.HGetAll(ctx, balanceKey(userID, string(channel))).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get balance: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrBalanceNotFound
	}
	amount, _ := strconv.ParseInt(vals["amount"], 10, 64)            //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, vals["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return &ledger.Balance{
		UserID:    userID,
		Channel:   channel,
		Amount:    amount,
		Status:    ledger.Status(vals["status"]),
		UpdatedAt: updatedAt,
	}, nil
}

// SetBalanceStatus changes the status of an existing balance.
func (s *Store) SetBalanceStatus(ctx context.Context, userID string, channel ledger.Channel, status ledger.Status) error {
	ok, err := setStatusScript.Run(ctx, s.client,
		[]string{balanceKey(userID, string(channel))},
		string(status), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: set balance status: %w", err)
	}
	if ok == 0 {
		return herald.ErrBalanceNotFound
	}
	return nil
}
