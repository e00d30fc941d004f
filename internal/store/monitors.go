package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinela/sentinela/internal/models"
)

const monitorColumns = `
	id, name, enabled, queued, running, queued_at, running_at,
	search_executed_at, update_executed_at, last_heartbeat,
	last_successful_execution, run_token`

func scanMonitor(row pgx.Row) (*models.Monitor, error) {
	var m models.Monitor
	err := row.Scan(&m.ID, &m.Name, &m.Enabled, &m.Queued, &m.Running,
		&m.QueuedAt, &m.RunningAt, &m.SearchExecutedAt, &m.UpdateExecutedAt,
		&m.LastHeartbeat, &m.LastSuccessfulExecution, &m.RunToken)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMonitor fetches one monitor by id.
func (s *Store) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	m, err := scanMonitor(s.pool.QueryRow(queryCtx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %d: %w", id, err)
	}
	return m, nil
}

// GetMonitorByName fetches one monitor by its normalized name.
func (s *Store) GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	m, err := scanMonitor(s.pool.QueryRow(queryCtx,
		`SELECT `+monitorColumns+` FROM monitors WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %s: %w", name, err)
	}
	return m, nil
}

// GetEnabledMonitors lists every enabled monitor.
func (s *Store) GetEnabledMonitors(ctx context.Context) ([]models.Monitor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx,
		`SELECT `+monitorColumns+` FROM monitors WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// ListMonitors lists every monitor, enabled or not.
func (s *Store) ListMonitors(ctx context.Context) ([]models.Monitor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx,
		`SELECT `+monitorColumns+` FROM monitors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// UpsertMonitorByName creates the monitor row for a registered definition if
// it does not exist yet. The name is normalized first.
func (s *Store) UpsertMonitorByName(ctx context.Context, name string) (*models.Monitor, error) {
	name = models.NormalizeMonitorName(name)
	if name == "" {
		return nil, fmt.Errorf("monitor name normalizes to empty")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	m, err := scanMonitor(s.pool.QueryRow(queryCtx, `
		INSERT INTO monitors (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+monitorColumns, name))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert monitor %s: %w", name, err)
	}
	return m, nil
}

// SetMonitorEnabled flips the enabled flag and records the change. A no-op
// when the monitor already has the requested state.
func (s *Store) SetMonitorEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE monitors SET enabled = $2 WHERE id = $1 AND enabled <> $2`, id, enabled)
		if err != nil {
			return fmt.Errorf("failed to set monitor %d enabled=%t: %w", id, enabled, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.insertEvent(ctx, tx, "monitor", id, id, models.EventMonitorEnabledChanged,
			map[string]any{"enabled": enabled}, nil)
	})
}

// ClaimMonitorForRun atomically marks the monitor queued. Returns false when
// the monitor is disabled or already queued or running, then the caller must
// not enqueue it.
func (s *Store) ClaimMonitorForRun(ctx context.Context, id int64) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(queryCtx, `
		UPDATE monitors SET queued = TRUE, queued_at = $2
		WHERE id = $1 AND enabled AND NOT queued AND NOT running`, id, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim monitor %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevertClaim undoes a claim whose enqueue failed, so the next controller
// cycle picks the monitor up again.
func (s *Store) RevertClaim(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx,
		`UPDATE monitors SET queued = FALSE, queued_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revert claim on monitor %d: %w", id, err)
	}
	return nil
}

// beginRunSQL leaves queued untouched: a monitor stays queued for the whole
// run, running implies queued, and only the end of the run releases both.
const beginRunSQL = `
	UPDATE monitors
	SET running = TRUE, running_at = $2, last_heartbeat = $2, run_token = $3
	WHERE id = $1 AND queued AND NOT running`

const endRunReleaseSQL = `
	UPDATE monitors
	SET queued = FALSE, queued_at = NULL, running = FALSE, running_at = NULL,
		run_token = NULL`

// BeginRun marks a queued monitor running and issues the run token that
// guards heartbeats and the end of the run. Returns nil when the monitor
// was not queued, which means another worker already took it.
func (s *Store) BeginRun(ctx context.Context, id int64) (*uuid.UUID, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	token := uuid.New()
	now := s.now()
	tag, err := s.pool.Exec(queryCtx, beginRunSQL, id, now, token)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run for monitor %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return &token, nil
}

// Heartbeat refreshes the run's liveness. A stale token matches no row,
// which tells the caller its run was taken over.
func (s *Store) Heartbeat(ctx context.Context, id int64, token uuid.UUID) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(queryCtx, `
		UPDATE monitors SET last_heartbeat = $3
		WHERE id = $1 AND running AND run_token = $2`, id, token, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat monitor %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// EndRun releases the monitor, records the execution and emits the matching
// execution event. ErrorType is empty on success. A stale token makes the
// release a no-op but the execution is still recorded.
func (s *Store) EndRun(ctx context.Context, id int64, token uuid.UUID, status models.ExecutionStatus, errorType string, startedAt time.Time) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		query := endRunReleaseSQL
		if status == models.ExecutionSuccess {
			query += `, last_successful_execution = $3`
		}
		query += ` WHERE id = $1 AND run_token = $2`

		args := []any{id, token}
		if status == models.ExecutionSuccess {
			args = append(args, now)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to end run for monitor %d: %w", id, err)
		}

		var errType *string
		if errorType != "" {
			errType = &errorType
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO monitor_executions (monitor_id, status, error_type, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5)`, id, status, errType, startedAt, now); err != nil {
			return fmt.Errorf("failed to record execution for monitor %d: %w", id, err)
		}

		eventName := models.EventMonitorExecutionSuccess
		data := map[string]any{"started_at": startedAt, "finished_at": now}
		if status != models.ExecutionSuccess {
			eventName = models.EventMonitorExecutionError
			data["error_type"] = errorType
		}
		return s.insertEvent(ctx, tx, "monitor", id, id, eventName, data, nil)
	})
}

// SetSearchExecutedAt stamps the search routine's completion.
func (s *Store) SetSearchExecutedAt(ctx context.Context, id int64, at time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx,
		`UPDATE monitors SET search_executed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp search for monitor %d: %w", id, err)
	}
	return nil
}

// SetUpdateExecutedAt stamps the update routine's completion.
func (s *Store) SetUpdateExecutedAt(ctx context.Context, id int64, at time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx,
		`UPDATE monitors SET update_executed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp update for monitor %d: %w", id, err)
	}
	return nil
}

// ListStuckMonitors finds monitors still marked queued or running past the
// tolerance. Running monitors are judged by their last heartbeat, falling
// back to when the run started.
func (s *Store) ListStuckMonitors(ctx context.Context, tolerance time.Duration) ([]models.Monitor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cutoff := s.now().Add(-tolerance)
	rows, err := s.pool.Query(queryCtx, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE (running AND COALESCE(last_heartbeat, running_at) < $1)
		   OR (queued AND NOT running AND queued_at < $1)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// ResetStuckMonitor clears a stuck monitor's queued and running state and
// records that it happened, so the next controller cycle can reschedule it.
func (s *Store) ResetStuckMonitor(ctx context.Context, id int64) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE monitors
			SET queued = FALSE, queued_at = NULL, running = FALSE,
				running_at = NULL, run_token = NULL
			WHERE id = $1 AND (queued OR running)`, id)
		if err != nil {
			return fmt.Errorf("failed to reset stuck monitor %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.insertEvent(ctx, tx, "monitor", id, id, models.EventMonitorStuck, nil, nil)
	})
}
