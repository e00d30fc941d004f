package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/config"
)

// internalMessage is one entry in the in-process queue. A message is either
// ready or in flight with a visibility deadline.
type internalMessage struct {
	id       string
	kind     Kind
	payload  json.RawMessage
	inflight bool
	deadline time.Time
}

// InternalQueue is a bounded in-process FIFO with SQS-like visibility
// semantics. Received messages become invisible for the visibility lease and
// are redelivered when the lease expires without an ack.
type InternalQueue struct {
	mu       sync.Mutex
	messages []*internalMessage
	notify   chan struct{}

	maxSize    int
	waitTime   time.Duration
	visibility time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewInternalQueue builds the in-process queue from the configuration.
func NewInternalQueue(cfg config.QueueConfig, logger *slog.Logger) *InternalQueue {
	return &InternalQueue{
		notify:     make(chan struct{}, 1),
		maxSize:    cfg.InternalQueueSize,
		waitTime:   cfg.GetQueueWaitMessageTime(),
		visibility: cfg.GetQueueVisibilityTime(),
		logger:     logger.With("component", "internal_queue"),
		now:        time.Now,
	}
}

// Send appends a message. It fails when the queue is full so the caller can
// revert its claim and let the next controller cycle retry.
func (q *InternalQueue) Send(ctx context.Context, kind Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	q.mu.Lock()
	if q.maxSize > 0 && len(q.messages) >= q.maxSize {
		q.mu.Unlock()
		return fmt.Errorf("internal queue is full (%d messages)", q.maxSize)
	}
	q.messages = append(q.messages, &internalMessage{
		id:      uuid.NewString(),
		kind:    kind,
		payload: body,
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns the oldest visible message, waiting up to the configured
// wait time. Returns nil without error when nothing arrived.
func (q *InternalQueue) Receive(ctx context.Context) (*Message, error) {
	deadline := q.now().Add(q.waitTime)
	for {
		if msg := q.takeVisible(); msg != nil {
			return msg, nil
		}

		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// takeVisible marks the oldest deliverable message in flight and returns it.
// Expired in-flight messages are deliverable again.
func (q *InternalQueue) takeVisible() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, m := range q.messages {
		if m.inflight && now.Before(m.deadline) {
			continue
		}
		if m.inflight {
			q.logger.Warn("redelivering expired message", "kind", m.kind, "message_id", m.id)
		}
		m.inflight = true
		m.deadline = now.Add(q.visibility)
		return &Message{Kind: m.kind, Payload: m.payload, ReceiptHandle: m.id}
	}
	return nil
}

// ExtendVisibility pushes the message's redelivery deadline forward by one
// visibility lease.
func (q *InternalQueue) ExtendVisibility(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.id == msg.ReceiptHandle && m.inflight {
			m.deadline = q.now().Add(q.visibility)
			return nil
		}
	}
	return fmt.Errorf("message %s is not in flight", msg.ReceiptHandle)
}

// Ack removes the message from the queue.
func (q *InternalQueue) Ack(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.id == msg.ReceiptHandle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s is not in the queue", msg.ReceiptHandle)
}

// Nack makes the message immediately deliverable again.
func (q *InternalQueue) Nack(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	for _, m := range q.messages {
		if m.id == msg.ReceiptHandle {
			m.inflight = false
			m.deadline = time.Time{}
			break
		}
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len reports how many messages are queued, including in-flight ones.
func (q *InternalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
