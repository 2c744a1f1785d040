package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	pgnats "github.com/Strob0t/phasegate/internal/adapter/nats"
	"github.com/Strob0t/phasegate/internal/adapter/natskv"
	"github.com/Strob0t/phasegate/internal/adapter/postgres"
	"github.com/Strob0t/phasegate/internal/adapter/redis"
	"github.com/Strob0t/phasegate/internal/adapter/ristretto"
	"github.com/Strob0t/phasegate/internal/adapter/tiered"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/port/auditlog"
	"github.com/Strob0t/phasegate/internal/port/cache"
	"github.com/Strob0t/phasegate/internal/port/counter"
	"github.com/Strob0t/phasegate/internal/port/database"
)

// openStorage selects the durable store and audit log.
func openStorage(ctx context.Context, cfg *config.Config) (database.Store, auditlog.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		slog.Warn("using in-memory storage: state is lost on restart")
		return memory.NewStore(), memory.NewAuditLog(), func() {}, nil
	case "postgres", "":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
		return postgres.NewStore(pool), postgres.NewAuditLog(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openCounter selects the shared HITL counter backend. The nats backend needs
// a connected queue.
func openCounter(ctx context.Context, cfg *config.Config, queue *pgnats.Queue) (counter.Cache, func(), error) {
	switch cfg.Counter.Backend {
	case "nats":
		if queue == nil {
			return nil, nil, fmt.Errorf("counter backend nats requires nats.url")
		}
		kv, err := natskv.OpenBucket(ctx, queue.JetStream(), cfg.Counter.Bucket, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("counter bucket: %w", err)
		}
		return natskv.NewCounter(kv), func() {}, nil
	case "redis":
		client, err := redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return redis.NewCounter(client), func() { _ = client.Close() }, nil
	case "memory":
		slog.Warn("using in-memory HITL counter: limits are not shared across replicas")
		return memory.NewCounter(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown counter backend %q", cfg.Counter.Backend)
	}
}

// openPhaseCache builds the phase lookup cache: ristretto in process, layered
// over a NATS KV bucket when NATS is available.
func openPhaseCache(ctx context.Context, cfg *config.Config, queue *pgnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	if queue == nil || cfg.Cache.L2Bucket == "" {
		return l1, l1.Close, nil
	}
	kv, err := natskv.OpenBucket(ctx, queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.PhaseTTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 cache bucket: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.Cache.PhaseTTL), l1.Close, nil
}
