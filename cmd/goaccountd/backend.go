package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goAccount/persist"
	"github.com/MrEthical07/goAccount/persist/dynamostore"
	"github.com/MrEthical07/goAccount/persist/redisstore"
	"github.com/MrEthical07/goAccount/persist/sqlitestore"
	"github.com/redis/go-redis/v9"
)

// openBackend returns the configured adapter and a function releasing it.
func openBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (persist.Adapter, func(), error) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("backend ready", "kind", "redis", "addrs", cfg.Redis.Addrs)
		return redisstore.New(client, cfg.Prefix), func() { _ = client.Close() }, nil

	case "dynamodb":
		client, err := dynamostore.NewClient(ctx, dynamostore.ClientOptions{
			Region:          cfg.Dynamo.Region,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
			Endpoint:        cfg.Dynamo.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Dynamo.CreateTable {
			if err := dynamostore.EnsureTable(ctx, client, cfg.Dynamo.Table); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("backend ready", "kind", "dynamodb", "table", cfg.Dynamo.Table)
		return dynamostore.New(client, cfg.Dynamo.Table, cfg.Prefix), func() {}, nil

	case "sqlite":
		store, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("backend ready", "kind", "sqlite", "path", cfg.SQLite.Path)
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Kind)
}
