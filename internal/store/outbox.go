package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinela/sentinela/internal/queue"
)

const outboxBatchSize = 100

// OutboxFlusher moves committed pending events onto the work queue. Events
// are written inside the state transaction and published here afterwards,
// so an enqueue failure can never lose the event, it stays pending and is
// retried on the next pass.
type OutboxFlusher struct {
	store    *Store
	queue    queue.Queue
	interval time.Duration
	logger   *slog.Logger
}

// NewOutboxFlusher builds the flusher.
func NewOutboxFlusher(store *Store, q queue.Queue, interval time.Duration, logger *slog.Logger) *OutboxFlusher {
	return &OutboxFlusher{
		store:    store,
		queue:    q,
		interval: interval,
		logger:   logger.With("component", "outbox_flusher"),
	}
}

// Run flushes until the context ends.
func (f *OutboxFlusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := f.Flush(ctx); err != nil && ctx.Err() == nil {
			f.logger.Error("outbox flush failed", "error", err)
		}
	}
}

// Flush publishes one batch of pending events.
func (f *OutboxFlusher) Flush(ctx context.Context) error {
	events, err := f.store.PendingEvents(ctx, outboxBatchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := f.queue.Send(ctx, queue.KindEvent, event.Payload()); err != nil {
			// Leave the event pending, the next pass retries it.
			f.logger.Error("failed to publish event",
				"event", event.EventName, "event_id", event.ID, "error", err)
			return err
		}
		if err := f.store.MarkEventPublished(ctx, event.ID); err != nil {
			// At-least-once: the event may be delivered again.
			f.logger.Error("failed to mark event published",
				"event", event.EventName, "event_id", event.ID, "error", err)
			return err
		}
	}

	if len(events) > 0 {
		f.logger.Debug("events published", "count", len(events))
	}
	return nil
}
