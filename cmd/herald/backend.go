package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/config"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/store/postgres"
	redisstore "github.com/xraph/herald/store/redis"
)

// backend is the set of stores the process runs on. With the redis
// backend jobs, dead letters and balances live in redis while contacts,
// groups and the message log stay in postgres.
type backend struct {
	queue store.Queue
	data  store.Store

	closers []func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.QueueBackend {
	case config.BackendMemory:
		m := memory.New()
		return &backend{queue: m, data: m, closers: []func() error{m.Close}}, nil

	case config.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{queue: pg, data: pg, closers: []func() error{pg.Close}}, nil

	case config.BackendRedis:
		pg, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := redisstore.New(client, redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			_ = client.Close()
			_ = pg.Close()
			return nil, err
		}
		return &backend{
			queue:   rs,
			data:    pg,
			closers: []func() error{rs.Close, client.Close, pg.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func (b *backend) migrate(ctx context.Context) error {
	if err := b.data.Migrate(ctx); err != nil {
		return err
	}
	if b.queue != store.Queue(b.data) {
		return b.queue.Migrate(ctx)
	}
	return nil
}

func (b *backend) ping(ctx context.Context) error {
	if err := b.data.Ping(ctx); err != nil {
		return err
	}
	return b.queue.Ping(ctx)
}

func (b *backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
