package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/models"
)

// PendingEvents lists committed events waiting for publication, oldest
// first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT id, event_source, event_source_id, event_source_monitor_id,
			event_name, event_data, extra_payload, pending_publish, created_at
		FROM events WHERE pending_publish ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		err := rows.Scan(&e.ID, &e.EventSource, &e.EventSourceID, &e.EventSourceMonitorID,
			&e.EventName, &e.EventData, &e.ExtraPayload, &e.PendingPublish, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventPublished clears the pending flag after the event reached the
// queue.
func (s *Store) MarkEventPublished(ctx context.Context, id uuid.UUID) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx,
		`UPDATE events SET pending_publish = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", id, err)
	}
	return nil
}

// DeleteOldEvents removes events older than the retention window. Pending
// events are kept regardless of age. Returns how many rows went away.
func (s *Store) DeleteOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cutoff := s.now().Add(-retention)
	tag, err := s.pool.Exec(queryCtx,
		`DELETE FROM events WHERE created_at < $1 AND NOT pending_publish`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}
