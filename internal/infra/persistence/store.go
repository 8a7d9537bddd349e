// Package persistence opens the ledger store selected by configuration.
// Concrete implementations live in subpackages (postgres, kvstore).
package persistence

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	dbmigrations "github.com/coachpo/tradeledger/db/migrations"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/infra/config"
	"github.com/coachpo/tradeledger/internal/infra/persistence/kvstore"
	"github.com/coachpo/tradeledger/internal/infra/persistence/migrations"
	"github.com/coachpo/tradeledger/internal/infra/persistence/postgres"
	"github.com/coachpo/tradeledger/internal/observability"
)

// Options carries the loggers handed to the backends.
type Options struct {
	Logger observability.Logger
	// BadgerLogger receives badger's internal logs; nil silences them.
	BadgerLogger badger.Logger
}

// Open builds the store for cfg.Storage.Backend. The caller owns the result
// and must Close it.
func Open(ctx context.Context, cfg config.AppConfig, opts Options) (ledgerstore.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		store, err := kvstore.Open(kvstore.Options{
			Path:     cfg.Storage.Badger.Path,
			InMemory: cfg.Storage.Badger.InMemory,
			Logger:   opts.BadgerLogger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("ledger store opened",
			observability.F("backend", string(config.BackendBadger)),
			observability.F("in_memory", cfg.Storage.Badger.InMemory))
		return store, nil
	case config.BackendPostgres:
		if cfg.Database.RunMigrations {
			if err := migrations.ApplyFS(ctx, cfg.Database.DSN, dbmigrations.Files, ".", logger); err != nil {
				return nil, err
			}
		}
		pool, err := OpenPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		postgres.ObservePoolMetrics(pool, "ledger")
		logger.Info("ledger store opened",
			observability.F("backend", string(config.BackendPostgres)),
			observability.F("max_conns", cfg.Database.MaxConns))
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("persistence: unsupported backend %q", cfg.Storage.Backend)
	}
}

// OpenPool creates a pgx pool sized by cfg and verifies connectivity.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("persistence: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}
	return pool, nil
}
