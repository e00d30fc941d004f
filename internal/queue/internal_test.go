package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinela/sentinela/internal/config"
)

func testQueue(t *testing.T, size int) *InternalQueue {
	t.Helper()
	cfg := config.QueueConfig{
		Type:                 "internal",
		QueueWaitMessageTime: 0,
		QueueVisibilityTime:  30,
		InternalQueueSize:    size,
	}
	return NewInternalQueue(cfg, slog.Default())
}

func mustReceive(t *testing.T, q *InternalQueue) *Message {
	t.Helper()
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if msg == nil {
		t.Fatal("Receive() returned no message")
	}
	return msg
}

func TestInternalQueueSendReceive(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	if err := q.Send(ctx, KindMonitor, MonitorPayload{MonitorID: 42, Tasks: []string{"search"}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg := mustReceive(t, q)
	if msg.Kind != KindMonitor {
		t.Errorf("Kind = %q, want %q", msg.Kind, KindMonitor)
	}

	var payload MonitorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.MonitorID != 42 || len(payload.Tasks) != 1 || payload.Tasks[0] != "search" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestInternalQueueEmptyReceive(t *testing.T) {
	q := testQueue(t, 10)

	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if msg != nil {
		t.Errorf("Receive() on empty queue = %+v, want nil", msg)
	}
}

func TestInternalQueueFIFO(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := q.Send(ctx, KindMonitor, MonitorPayload{MonitorID: int64(i)}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	for i := 1; i <= 3; i++ {
		msg := mustReceive(t, q)
		var payload MonitorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload.MonitorID != int64(i) {
			t.Errorf("message %d has monitor id %d", i, payload.MonitorID)
		}
	}
}

func TestInternalQueueFull(t *testing.T) {
	q := testQueue(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Send(ctx, KindEvent, map[string]any{"n": i}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if err := q.Send(ctx, KindEvent, map[string]any{"n": 2}); err == nil {
		t.Error("Send() on full queue did not fail")
	}
}

func TestInternalQueueVisibility(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	if err := q.Send(ctx, KindRequest, RequestPayload{Action: "alert_lock"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	first := mustReceive(t, q)

	// In flight, the message must not be delivered again.
	if msg, _ := q.Receive(ctx); msg != nil {
		t.Fatalf("Receive() redelivered an in-flight message")
	}

	// Expire the lease.
	q.now = func() time.Time { return time.Now().Add(time.Minute) }

	second := mustReceive(t, q)
	if second.ReceiptHandle != first.ReceiptHandle {
		t.Errorf("expired message redelivered with a different handle")
	}
}

func TestInternalQueueExtendVisibility(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	if err := q.Send(ctx, KindRequest, RequestPayload{Action: "alert_lock"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg := mustReceive(t, q)

	// Just before expiry the lease gets extended.
	q.now = func() time.Time { return time.Now().Add(29 * time.Second) }
	if err := q.ExtendVisibility(ctx, msg); err != nil {
		t.Fatalf("ExtendVisibility() error = %v", err)
	}

	// The old deadline has passed but the message is still leased.
	q.now = func() time.Time { return time.Now().Add(40 * time.Second) }
	if redelivered, _ := q.Receive(ctx); redelivered != nil {
		t.Error("Receive() redelivered a message with an extended lease")
	}
}

func TestInternalQueueAck(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	if err := q.Send(ctx, KindRequest, RequestPayload{Action: "issue_drop"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg := mustReceive(t, q)

	if err := q.Ack(ctx, msg); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after ack = %d, want 0", q.Len())
	}

	// A second ack finds nothing.
	if err := q.Ack(ctx, msg); err == nil {
		t.Error("Ack() of an acked message did not fail")
	}
}

func TestInternalQueueNack(t *testing.T) {
	q := testQueue(t, 10)
	ctx := context.Background()

	if err := q.Send(ctx, KindRequest, RequestPayload{Action: "issue_drop"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg := mustReceive(t, q)

	if err := q.Nack(ctx, msg); err != nil {
		t.Fatalf("Nack() error = %v", err)
	}

	// Immediately deliverable again, no lease wait.
	redelivered := mustReceive(t, q)
	if redelivered.ReceiptHandle != msg.ReceiptHandle {
		t.Errorf("nacked message redelivered with a different handle")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"monitor", `{"kind":"monitor","payload":{"monitor_id":1}}`, false},
		{"unknown kind", `{"kind":"bogus","payload":{}}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEnvelope([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
