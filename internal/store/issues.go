package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sentinela/sentinela/internal/models"
)

const issueColumns = `
	id, monitor_id, alert_id, model_id, status, data, created_at, solved_at, dropped_at`

func scanIssue(row pgx.Row) (*models.Issue, error) {
	var i models.Issue
	err := row.Scan(&i.ID, &i.MonitorID, &i.AlertID, &i.ModelID, &i.Status,
		&i.Data, &i.CreatedAt, &i.SolvedAt, &i.DroppedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func collectIssues(rows pgx.Rows) ([]models.Issue, error) {
	defer rows.Close()
	var issues []models.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, *i)
	}
	return issues, rows.Err()
}

// GetIssue fetches one issue by id.
func (s *Store) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	i, err := scanIssue(s.pool.QueryRow(queryCtx,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", id, err)
	}
	return i, nil
}

// ListActiveIssues lists the monitor's active issues, oldest first.
func (s *Store) ListActiveIssues(ctx context.Context, monitorID int64) ([]models.Issue, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT `+issueColumns+` FROM issues
		WHERE monitor_id = $1 AND status = 'active' ORDER BY created_at`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active issues for monitor %d: %w", monitorID, err)
	}
	return collectIssues(rows)
}

// CreateIssue inserts a new active issue unless the model id rule forbids
// it. With unique set, a model id that ever had an issue is never reused.
// Without it, only a second active issue for the model id is blocked.
// Returns nil without error when creation was skipped.
func (s *Store) CreateIssue(ctx context.Context, monitorID int64, modelID string, data map[string]any, unique bool) (*models.Issue, error) {
	var created *models.Issue
	err := s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		dupQuery := `SELECT EXISTS (
			SELECT 1 FROM issues WHERE monitor_id = $1 AND model_id = $2 AND status = 'active')`
		if unique {
			dupQuery = `SELECT EXISTS (
				SELECT 1 FROM issues WHERE monitor_id = $1 AND model_id = $2)`
		}

		var exists bool
		if err := tx.QueryRow(ctx, dupQuery, monitorID, modelID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check existing issues for monitor %d: %w", monitorID, err)
		}
		if exists {
			return nil
		}

		if data == nil {
			data = map[string]any{}
		}
		issue, err := scanIssue(tx.QueryRow(ctx, `
			INSERT INTO issues (monitor_id, model_id, data, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING `+issueColumns, monitorID, modelID, data, s.now()))
		if err != nil {
			return fmt.Errorf("failed to create issue for monitor %d: %w", monitorID, err)
		}

		created = issue
		return s.insertEvent(ctx, tx, "issue", issue.ID, monitorID, models.EventIssueCreated,
			map[string]any{"model_id": modelID, "data": data}, nil)
	})
	return created, err
}

// UpdateIssueData replaces the issue's data and reports whether the update
// solved it. The solved decision is the caller's, made with the monitor's
// is-solved callback.
func (s *Store) UpdateIssueData(ctx context.Context, issue *models.Issue, data map[string]any, solved bool) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if data == nil {
			data = map[string]any{}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE issues SET data = $2 WHERE id = $1`, issue.ID, data); err != nil {
			return fmt.Errorf("failed to update issue %d: %w", issue.ID, err)
		}

		eventName := models.EventIssueUpdatedNotSolved
		if solved {
			eventName = models.EventIssueUpdatedSolved
		}
		return s.insertEvent(ctx, tx, "issue", issue.ID, issue.MonitorID, eventName,
			map[string]any{"model_id": issue.ModelID, "data": data}, nil)
	})
}

// MarkIssueSolved moves an active issue to solved.
func (s *Store) MarkIssueSolved(ctx context.Context, issue *models.Issue) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE issues SET status = 'solved', solved_at = $2
			WHERE id = $1 AND status = 'active'`, issue.ID, s.now())
		if err != nil {
			return fmt.Errorf("failed to solve issue %d: %w", issue.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.insertEvent(ctx, tx, "issue", issue.ID, issue.MonitorID, models.EventIssueSolved,
			map[string]any{"model_id": issue.ModelID}, nil)
	})
}

// MarkIssueDropped discards an active issue without solving it.
func (s *Store) MarkIssueDropped(ctx context.Context, issue *models.Issue) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE issues SET status = 'dropped', dropped_at = $2
			WHERE id = $1 AND status = 'active'`, issue.ID, s.now())
		if err != nil {
			return fmt.Errorf("failed to drop issue %d: %w", issue.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.insertEvent(ctx, tx, "issue", issue.ID, issue.MonitorID, models.EventIssueDropped,
			map[string]any{"model_id": issue.ModelID}, nil)
	})
}
