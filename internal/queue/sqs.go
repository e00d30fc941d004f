package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/sentinela/sentinela/internal/config"
)

// SQSQueue adapts the queue contract to AWS SQS. The visibility timeout at
// receive is twice the configured lease so the heartbeat has room to extend
// it before SQS redelivers.
type SQSQueue struct {
	client     *sqs.Client
	queueURL   string
	waitTime   time.Duration
	visibility time.Duration
	logger     *slog.Logger
}

// NewSQSQueue resolves (or creates) the queue and returns the adapter.
func NewSQSQueue(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (*SQSQueue, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	queueURL := cfg.URL
	if queueURL == "" {
		queueURL, err = resolveQueueURL(ctx, client, cfg)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("sqs queue ready", "queue_url", queueURL)

	return &SQSQueue{
		client:     client,
		queueURL:   queueURL,
		waitTime:   cfg.GetQueueWaitMessageTime(),
		visibility: cfg.GetQueueVisibilityTime(),
		logger:     logger.With("component", "sqs_queue"),
	}, nil
}

func resolveQueueURL(ctx context.Context, client *sqs.Client, cfg config.QueueConfig) (string, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(cfg.Name)})
	if err == nil {
		return *out.QueueUrl, nil
	}

	var notFound *types.QueueDoesNotExist
	if !errors.As(err, &notFound) || !cfg.CreateQueue {
		return "", fmt.Errorf("failed to resolve SQS queue %q: %w", cfg.Name, err)
	}

	created, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(cfg.Name)})
	if err != nil {
		return "", fmt.Errorf("failed to create SQS queue %q: %w", cfg.Name, err)
	}
	return *created.QueueUrl, nil
}

// Send publishes a message to the queue.
func (q *SQSQueue) Send(ctx context.Context, kind Kind, payload any) error {
	data, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", kind, err)
	}
	return nil
}

// Receive long-polls for a single message. Returns nil without error when
// nothing arrived within the wait time.
func (q *SQSQueue) Receive(ctx context.Context) (*Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.waitTime / time.Second),
		VisibilityTimeout:   int32(2 * q.visibility / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	kind, payload, err := decodeEnvelope([]byte(aws.ToString(raw.Body)))
	if err != nil {
		// A malformed body would be redelivered forever. Drop it.
		q.logger.Error("dropping undecodable message", "error", err)
		_, delErr := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: raw.ReceiptHandle,
		})
		if delErr != nil {
			q.logger.Error("failed to delete undecodable message", "error", delErr)
		}
		return nil, err
	}

	return &Message{Kind: kind, Payload: payload, ReceiptHandle: aws.ToString(raw.ReceiptHandle)}, nil
}

// ExtendVisibility resets the message's visibility timeout to twice the
// configured lease.
func (q *SQSQueue) ExtendVisibility(ctx context.Context, msg *Message) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(2 * q.visibility / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to extend message visibility: %w", err)
	}
	return nil
}

// Ack deletes the message from the queue.
func (q *SQSQueue) Ack(ctx context.Context, msg *Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack makes the message immediately visible again.
func (q *SQSQueue) Nack(ctx context.Context, msg *Message) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}
