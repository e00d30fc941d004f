package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentinela/sentinela/internal/models"
)

const notificationColumns = `
	id, monitor_id, alert_id, target, status, min_priority_to_send, data,
	created_at, closed_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.MonitorID, &n.AlertID, &n.Target, &n.Status,
		&n.MinPriorityToSend, &n.Data, &n.CreatedAt, &n.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification opens a notification for an alert on one target.
func (s *Store) CreateNotification(ctx context.Context, monitorID, alertID int64, target string, minPriority models.Priority, data map[string]any) (*models.Notification, error) {
	var created *models.Notification
	err := s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx, `
			INSERT INTO notifications (monitor_id, alert_id, target, min_priority_to_send, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+notificationColumns,
			monitorID, alertID, target, minPriority, data, s.now()))
		if err != nil {
			return fmt.Errorf("failed to create notification for alert %d: %w", alertID, err)
		}
		created = n
		return s.insertEvent(ctx, tx, "notification", n.ID, monitorID, models.EventNotificationCreated,
			map[string]any{"alert_id": alertID, "target": target}, nil)
	})
	return created, err
}

// CloseNotification moves an active notification to closed.
func (s *Store) CloseNotification(ctx context.Context, notificationID int64) error {
	return s.tx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx, `
			UPDATE notifications SET status = 'closed', closed_at = $2
			WHERE id = $1 AND status = 'active'
			RETURNING `+notificationColumns, notificationID, s.now()))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to close notification %d: %w", notificationID, err)
		}
		return s.insertEvent(ctx, tx, "notification", n.ID, n.MonitorID, models.EventNotificationClosed,
			map[string]any{"alert_id": n.AlertID, "target": n.Target}, nil)
	})
}

// ListActiveNotifications lists the active notifications of an alert.
func (s *Store) ListActiveNotifications(ctx context.Context, alertID int64) ([]models.Notification, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE alert_id = $1 AND status = 'active'`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for alert %d: %w", alertID, err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// ListNotificationsForSolvedAlerts finds notifications still active even
// though their alert was solved longer than the grace period ago. The
// janitorial procedure closes them.
func (s *Store) ListNotificationsForSolvedAlerts(ctx context.Context, grace time.Duration) ([]models.Notification, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cutoff := s.now().Add(-grace)
	rows, err := s.pool.Query(queryCtx, `
		SELECT `+notificationPrefixed("n")+`
		FROM notifications n
		JOIN alerts a ON a.id = n.alert_id
		WHERE n.status = 'active' AND a.status = 'solved' AND a.solved_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications of solved alerts: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

func notificationPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.monitor_id, ` + alias + `.alert_id, ` +
		alias + `.target, ` + alias + `.status, ` + alias + `.min_priority_to_send, ` +
		alias + `.data, ` + alias + `.created_at, ` + alias + `.closed_at`
}
