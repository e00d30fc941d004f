package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetVariable reads a per-monitor variable. The second return is false when
// the variable was never set.
func (s *Store) GetVariable(ctx context.Context, monitorID int64, name string) (string, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var value *string
	err := s.pool.QueryRow(queryCtx,
		`SELECT value FROM variables WHERE monitor_id = $1 AND name = $2`,
		monitorID, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get variable %s for monitor %d: %w", name, monitorID, err)
	}
	if value == nil {
		return "", true, nil
	}
	return *value, true, nil
}

// SetVariable writes a per-monitor variable, creating it on first use.
func (s *Store) SetVariable(ctx context.Context, monitorID int64, name, value string) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		INSERT INTO variables (monitor_id, name, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (monitor_id, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		monitorID, name, value, s.now())
	if err != nil {
		return fmt.Errorf("failed to set variable %s for monitor %d: %w", name, monitorID, err)
	}
	return nil
}
