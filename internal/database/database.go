// Package database
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sentinela/sentinela/internal/config"
)

// Connect opens the application database pool with the configured size and
// acquire timeout, and verifies the connection.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ApplicationDatabaseSettings.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse application database DSN: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.ApplicationDatabaseSettings.PoolSize)
	poolCfg.ConnConfig.ConnectTimeout = cfg.GetDatabaseAcquireTimeout()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create application database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetDatabaseAcquireTimeout())
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping application database: %w", err)
	}

	return pool, nil
}

// RunMigrations runs all pending migrations using the embedded SQL files.
// The migrations are compiled into the binary and don't require external
// files.
func RunMigrations(cfg *config.Config) error {
	connCfg, err := pgxpool.ParseConfig(cfg.ApplicationDatabaseSettings.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse application database DSN: %w", err)
	}

	db := stdlib.OpenDB(*connCfg.ConnConfig)
	defer db.Close()

	goose.SetBaseFS(EmbeddedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	return nil
}

// Close shuts the pool down, bounded by the configured close timeout.
func Close(pool *pgxpool.Pool, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
