// Package queue provides the work queue connecting the controller to the
// executor. Two backends exist, an in-process FIFO for single-binary
// deployments and an AWS SQS adapter for split deployments.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentinela/sentinela/internal/config"
)

// Kind tells the executor which handler a message belongs to.
type Kind string

const (
	KindMonitor Kind = "monitor"
	KindEvent   Kind = "event"
	KindRequest Kind = "request"
)

// Message is one unit of work. Payload carries the kind-specific body and
// ReceiptHandle identifies the in-flight delivery for Ack, Nack and
// ExtendVisibility.
type Message struct {
	Kind          Kind
	Payload       json.RawMessage
	ReceiptHandle string
}

// Queue is the transport contract between the controller and the executor.
// Receive blocks up to the configured wait time and returns a nil message
// when nothing arrived. A received message stays invisible for the
// visibility lease and is redelivered unless acked in time.
type Queue interface {
	Send(ctx context.Context, kind Kind, payload any) error
	Receive(ctx context.Context) (*Message, error)
	ExtendVisibility(ctx context.Context, msg *Message) error
	Ack(ctx context.Context, msg *Message) error
	Nack(ctx context.Context, msg *Message) error
}

// New builds the queue selected by the configuration.
func New(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (Queue, error) {
	switch cfg.Type {
	case "internal":
		return NewInternalQueue(cfg, logger), nil
	case "sqs":
		return NewSQSQueue(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Type)
	}
}

// envelope is the wire form shared by both backends.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEnvelope(kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	data, err := json.Marshal(envelope{Kind: kind, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", kind, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (Kind, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	switch env.Kind {
	case KindMonitor, KindEvent, KindRequest:
	default:
		return "", nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
	return env.Kind, env.Payload, nil
}
