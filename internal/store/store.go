// Package store implements every state transition of the engine as a
// transactional operation on the application database. Operations that
// change state also record the matching event inside the same transaction,
// so the event log can never disagree with the state.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReactionChecker tells the store whether an event has a reaction bound to
// it, which decides if the event must be queued for publication.
type ReactionChecker interface {
	HasReaction(monitorID int64, eventName string) bool
}

// Store is the data access layer over the application database.
type Store struct {
	pool         *pgxpool.Pool
	checker      ReactionChecker
	logAllEvents bool
	queryTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New builds the store. The checker may be nil, then no event is marked for
// publication.
func New(pool *pgxpool.Pool, checker ReactionChecker, logAllEvents bool, queryTimeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		pool:         pool,
		checker:      checker,
		logAllEvents: logAllEvents,
		queryTimeout: queryTimeout,
		logger:       logger.With("component", "store"),
		now:          time.Now,
	}
}

// tx runs fn inside a transaction bounded by the query timeout.
func (s *Store) tx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(txCtx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(txCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertEvent records a state transition inside the caller's transaction.
// Events with a bound reaction are flagged pending so the outbox flusher
// publishes them after commit. Without a reaction the event is only stored
// when event logging is on.
func (s *Store) insertEvent(ctx context.Context, tx pgx.Tx, source string, sourceID, monitorID int64, name string, data, extra map[string]any) error {
	pending := s.checker != nil && s.checker.HasReaction(monitorID, name)
	if !pending && !s.logAllEvents {
		return nil
	}

	if data == nil {
		data = map[string]any{}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO events (id, event_source, event_source_id, event_source_monitor_id,
			event_name, event_data, extra_payload, pending_publish, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), source, sourceID, monitorID, name, data, extra, pending, s.now())
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", name, err)
	}
	return nil
}
