package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinela/sentinela/internal/config"
)

// UserPools holds the database pools exposed to monitor callbacks through
// the query facility. Each pool comes from a DATABASE_<NAME> environment
// variable and is addressed by <name> lowercased.
type UserPools struct {
	pools        map[string]*pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

// OpenUserPools connects every configured user database pool. Pools without
// a DSN are skipped with a warning.
func OpenUserPools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*UserPools, error) {
	up := &UserPools{
		pools:        make(map[string]*pgxpool.Pool),
		queryTimeout: cfg.GetDatabaseQueryTimeout(),
		logger:       logger.With("component", "user_pools"),
	}

	for name, poolCfg := range cfg.DatabasesPoolsConfigs {
		if poolCfg.DSN == "" {
			up.logger.Warn("skipping database pool without DSN", "pool", name)
			continue
		}

		parsed, err := pgxpool.ParseConfig(poolCfg.DSN)
		if err != nil {
			up.Close()
			return nil, fmt.Errorf("failed to parse DSN for pool %q: %w", name, err)
		}
		if poolCfg.PoolSize > 0 {
			parsed.MaxConns = int32(poolCfg.PoolSize)
		}
		parsed.ConnConfig.ConnectTimeout = cfg.GetDatabaseAcquireTimeout()

		pool, err := pgxpool.NewWithConfig(ctx, parsed)
		if err != nil {
			up.Close()
			return nil, fmt.Errorf("failed to open pool %q: %w", name, err)
		}

		up.pools[name] = pool
		up.logger.Info("user database pool opened", "pool", name)
	}

	return up, nil
}

// Query runs a read query on the named pool and returns the rows as maps
// keyed by column name. This is the only database access monitor callbacks
// get.
func (up *UserPools) Query(ctx context.Context, poolName, sql string, args ...any) ([]map[string]any, error) {
	pool, ok := up.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("unknown database pool %q", poolName)
	}

	queryCtx, cancel := context.WithTimeout(ctx, up.queryTimeout)
	defer cancel()

	rows, err := pool.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query on pool %q failed: %w", poolName, err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToMap)
}

// Close shuts down every user pool.
func (up *UserPools) Close() {
	for name, pool := range up.pools {
		pool.Close()
		delete(up.pools, name)
	}
}
