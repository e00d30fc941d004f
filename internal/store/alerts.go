package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentinela/sentinela/internal/models"
)

const alertColumns = `
	id, monitor_id, status, priority, locked, acknowledged, acknowledge_priority,
	created_at, solved_at`

func scanAlert(row pgx.Row) (*models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.ID, &a.MonitorID, &a.Status, &a.Priority, &a.Locked,
		&a.Acknowledged, &a.AcknowledgePriority, &a.CreatedAt, &a.SolvedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlert fetches one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	a, err := scanAlert(s.pool.QueryRow(queryCtx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return a, nil
}

// alertPlan is the set of changes a recompute decided on. It is computed
// from an in-memory snapshot so the decision logic stays testable without a
// database.
type alertPlan struct {
	Create       bool
	LinkIssueIDs []int64
	Solve        bool

	NewPriority       models.Priority
	PriorityChanged   bool
	PriorityIncreased bool

	DismissAck bool

	// EmitUpdated marks a recompute that leaves an existing alert active.
	// Every such recompute records alert_updated, changed or not.
	EmitUpdated bool
}

// moreUrgent reports whether a is more urgent than b. Lower numbers are more
// urgent and none is least urgent of all.
func moreUrgent(a, b models.Priority) bool {
	if a == models.PriorityNone {
		return false
	}
	return b == models.PriorityNone || a < b
}

// planAlert decides what a recompute changes. alert is the monitor's active
// unlocked alert or nil, attached its active issues, unattached the active
// issues not linked to any alert.
func planAlert(alert *models.Alert, attached, unattached []models.Issue, opts models.AlertOptions, now time.Time) alertPlan {
	var plan alertPlan

	if alert == nil {
		priority := opts.Rule.Evaluate(now, unattached)
		if priority == models.PriorityNone {
			return plan
		}
		plan.Create = true
		plan.NewPriority = priority
		for _, issue := range unattached {
			plan.LinkIssueIDs = append(plan.LinkIssueIDs, issue.ID)
		}
		return plan
	}

	for _, issue := range unattached {
		plan.LinkIssueIDs = append(plan.LinkIssueIDs, issue.ID)
	}
	if opts.DismissAcknowledgeOnNewIssues && alert.Acknowledged && len(plan.LinkIssueIDs) > 0 {
		plan.DismissAck = true
	}

	all := append(append([]models.Issue{}, attached...), unattached...)
	if len(all) == 0 {
		plan.Solve = true
		return plan
	}

	plan.EmitUpdated = true
	priority := opts.Rule.Evaluate(now, all)
	plan.NewPriority = priority
	if priority != alert.Priority {
		plan.PriorityChanged = true
		plan.PriorityIncreased = moreUrgent(priority, alert.Priority)
	}
	return plan
}

// RecomputeAlert brings the monitor's alert in line with its active issues.
// It links loose issues, creates the alert when the rule first triggers,
// adjusts the priority, dismisses stale acknowledgements and solves the
// alert once no active issue remains. Locked alerts and their issues are
// left untouched.
func (s *Store) RecomputeAlert(ctx context.Context, monitorID int64, opts models.AlertOptions) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		alert, err := scanAlert(tx.QueryRow(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE monitor_id = $1 AND status = 'active' AND NOT locked
			ORDER BY id LIMIT 1
			FOR UPDATE`, monitorID))
		if errors.Is(err, pgx.ErrNoRows) {
			alert = nil
		} else if err != nil {
			return fmt.Errorf("failed to load alert for monitor %d: %w", monitorID, err)
		}

		var attached []models.Issue
		if alert != nil {
			rows, err := tx.Query(ctx, `
				SELECT `+issueColumns+` FROM issues
				WHERE alert_id = $1 AND status = 'active' ORDER BY created_at`, alert.ID)
			if err != nil {
				return fmt.Errorf("failed to load alert issues for monitor %d: %w", monitorID, err)
			}
			attached, err = collectIssues(rows)
			if err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `
			SELECT `+issueColumns+` FROM issues
			WHERE monitor_id = $1 AND status = 'active' AND alert_id IS NULL
			ORDER BY created_at`, monitorID)
		if err != nil {
			return fmt.Errorf("failed to load loose issues for monitor %d: %w", monitorID, err)
		}
		unattached, err := collectIssues(rows)
		if err != nil {
			return err
		}

		plan := planAlert(alert, attached, unattached, opts, s.now())
		return s.applyAlertPlan(ctx, tx, monitorID, alert, unattached, plan)
	})
}

func (s *Store) applyAlertPlan(ctx context.Context, tx pgx.Tx, monitorID int64, alert *models.Alert, unattached []models.Issue, plan alertPlan) error {
	if plan.Create {
		created, err := scanAlert(tx.QueryRow(ctx, `
			INSERT INTO alerts (monitor_id, priority, created_at)
			VALUES ($1, $2, $3)
			RETURNING `+alertColumns, monitorID, plan.NewPriority, s.now()))
		if err != nil {
			return fmt.Errorf("failed to create alert for monitor %d: %w", monitorID, err)
		}
		alert = created

		if err := s.insertEvent(ctx, tx, "alert", alert.ID, monitorID, models.EventAlertCreated,
			map[string]any{"priority": plan.NewPriority}, nil); err != nil {
			return err
		}
	}

	if len(plan.LinkIssueIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE issues SET alert_id = $2 WHERE id = ANY($1)`, plan.LinkIssueIDs, alert.ID); err != nil {
			return fmt.Errorf("failed to link issues to alert %d: %w", alert.ID, err)
		}

		for _, issue := range unattached {
			if err := s.insertEvent(ctx, tx, "issue", issue.ID, monitorID, models.EventIssueLinked,
				map[string]any{"alert_id": alert.ID, "model_id": issue.ModelID}, nil); err != nil {
				return err
			}
		}
		if err := s.insertEvent(ctx, tx, "alert", alert.ID, monitorID, models.EventAlertIssuesLinked,
			map[string]any{"issue_ids": plan.LinkIssueIDs}, nil); err != nil {
			return err
		}
	}

	if plan.DismissAck {
		if _, err := tx.Exec(ctx, `
			UPDATE alerts SET acknowledged = FALSE, acknowledge_priority = NULL
			WHERE id = $1`, alert.ID); err != nil {
			return fmt.Errorf("failed to dismiss acknowledgement on alert %d: %w", alert.ID, err)
		}
		if err := s.insertEvent(ctx, tx, "alert", alert.ID, monitorID,
			models.EventAlertAcknowledgeDismissed, nil, nil); err != nil {
			return err
		}
	}

	if plan.Solve {
		if _, err := tx.Exec(ctx, `
			UPDATE alerts SET status = 'solved', solved_at = $2 WHERE id = $1`,
			alert.ID, s.now()); err != nil {
			return fmt.Errorf("failed to solve alert %d: %w", alert.ID, err)
		}
		return s.insertEvent(ctx, tx, "alert", alert.ID, monitorID, models.EventAlertSolved, nil, nil)
	}

	if plan.PriorityChanged {
		if _, err := tx.Exec(ctx,
			`UPDATE alerts SET priority = $2 WHERE id = $1`, alert.ID, plan.NewPriority); err != nil {
			return fmt.Errorf("failed to update priority on alert %d: %w", alert.ID, err)
		}

		eventName := models.EventAlertPriorityDecreased
		if plan.PriorityIncreased {
			eventName = models.EventAlertPriorityIncreased
		}
		data := map[string]any{"from": alert.Priority, "to": plan.NewPriority}
		if err := s.insertEvent(ctx, tx, "alert", alert.ID, monitorID, eventName, data, nil); err != nil {
			return err
		}
	}

	if plan.EmitUpdated {
		data := map[string]any{"priority": plan.NewPriority}
		if plan.PriorityChanged {
			data["from"] = alert.Priority
		}
		return s.insertEvent(ctx, tx, "alert", alert.ID, monitorID, models.EventAlertUpdated, data, nil)
	}

	return nil
}

// AcknowledgeAlert records an acknowledgement at the alert's current
// priority. A no-op on solved or already acknowledged alerts.
func (s *Store) AcknowledgeAlert(ctx context.Context, alertID int64) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		alert, err := scanAlert(tx.QueryRow(ctx, `
			UPDATE alerts SET acknowledged = TRUE, acknowledge_priority = priority
			WHERE id = $1 AND status = 'active' AND NOT acknowledged
			RETURNING `+alertColumns, alertID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to acknowledge alert %d: %w", alertID, err)
		}
		return s.insertEvent(ctx, tx, "alert", alert.ID, alert.MonitorID, models.EventAlertAcknowledged,
			map[string]any{"priority": alert.Priority}, nil)
	})
}

// LockAlert freezes the alert. Locked alerts are skipped by recomputes.
func (s *Store) LockAlert(ctx context.Context, alertID int64) error {
	return s.setAlertLocked(ctx, alertID, true, models.EventAlertLocked)
}

// UnlockAlert lifts the freeze, the next recompute picks the alert up again.
func (s *Store) UnlockAlert(ctx context.Context, alertID int64) error {
	return s.setAlertLocked(ctx, alertID, false, models.EventAlertUnlocked)
}

func (s *Store) setAlertLocked(ctx context.Context, alertID int64, locked bool, eventName string) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		alert, err := scanAlert(tx.QueryRow(ctx, `
			UPDATE alerts SET locked = $2
			WHERE id = $1 AND status = 'active' AND locked <> $2
			RETURNING `+alertColumns, alertID, locked))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to set locked=%t on alert %d: %w", locked, alertID, err)
		}
		return s.insertEvent(ctx, tx, "alert", alert.ID, alert.MonitorID, eventName, nil, nil)
	})
}

// SolveAlertIssues force-solves every active issue of the alert and solves
// the alert itself. This is the manual "resolve everything" action.
func (s *Store) SolveAlertIssues(ctx context.Context, alertID int64) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		alert, err := scanAlert(tx.QueryRow(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE id = $1 AND status = 'active' FOR UPDATE`, alertID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load alert %d: %w", alertID, err)
		}

		rows, err := tx.Query(ctx, `
			SELECT `+issueColumns+` FROM issues
			WHERE alert_id = $1 AND status = 'active'`, alert.ID)
		if err != nil {
			return fmt.Errorf("failed to load issues of alert %d: %w", alert.ID, err)
		}
		issues, err := collectIssues(rows)
		if err != nil {
			return err
		}

		now := s.now()
		for _, issue := range issues {
			if _, err := tx.Exec(ctx, `
				UPDATE issues SET status = 'solved', solved_at = $2 WHERE id = $1`,
				issue.ID, now); err != nil {
				return fmt.Errorf("failed to solve issue %d: %w", issue.ID, err)
			}
			if err := s.insertEvent(ctx, tx, "issue", issue.ID, alert.MonitorID, models.EventIssueSolved,
				map[string]any{"model_id": issue.ModelID}, nil); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE alerts SET status = 'solved', solved_at = $2 WHERE id = $1`,
			alert.ID, now); err != nil {
			return fmt.Errorf("failed to solve alert %d: %w", alert.ID, err)
		}
		return s.insertEvent(ctx, tx, "alert", alert.ID, alert.MonitorID, models.EventAlertSolved, nil, nil)
	})
}
