package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/creator-ledger/internal/config"
	"github.com/example/creator-ledger/internal/ledger"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// openStore connects the backend named by cfg.DatabaseURL and applies the
// schema when AutoMigrate is set. The returned func releases the connection.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	var (
		store   ledger.Store
		closeFn func()
	)

	switch cfg.StoreDriver() {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg := ledger.NewPostgresStore(pool)
		pg.Timeout = cfg.StoreTimeout
		store, closeFn = pg, pool.Close
	case "sqlite":
		db, err := ledger.OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = ledger.NewSQLiteStore(db), func() { _ = db.Close() }
	default:
		return nil, nil, errors.New("unsupported DATABASE_URL scheme")
	}

	if cfg.AutoMigrate {
		if m, ok := store.(migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				closeFn()
				return nil, nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
			}
			logger.Info("ledger schema migrated", "store", cfg.StoreDriver())
		}
	}

	return store, closeFn, nil
}
