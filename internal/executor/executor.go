// Package executor consumes work from the queue and runs it: monitor
// executions, reactions to events and operator requests. Workers ack every
// message they handled, even on failure, the controller reschedules what
// needs another attempt.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/database"
	"github.com/sentinela/sentinela/internal/metrics"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

// Store is the slice of the data layer the executor uses.
type Store interface {
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error)
	UpsertMonitorByName(ctx context.Context, name string) (*models.Monitor, error)
	SetMonitorEnabled(ctx context.Context, id int64, enabled bool) error

	BeginRun(ctx context.Context, id int64) (*uuid.UUID, error)
	Heartbeat(ctx context.Context, id int64, token uuid.UUID) (bool, error)
	EndRun(ctx context.Context, id int64, token uuid.UUID, status models.ExecutionStatus, errorType string, startedAt time.Time) error
	SetSearchExecutedAt(ctx context.Context, id int64, at time.Time) error
	SetUpdateExecutedAt(ctx context.Context, id int64, at time.Time) error

	ListActiveIssues(ctx context.Context, monitorID int64) ([]models.Issue, error)
	CreateIssue(ctx context.Context, monitorID int64, modelID string, data map[string]any, unique bool) (*models.Issue, error)
	UpdateIssueData(ctx context.Context, issue *models.Issue, data map[string]any, solved bool) error
	MarkIssueSolved(ctx context.Context, issue *models.Issue) error
	MarkIssueDropped(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)

	RecomputeAlert(ctx context.Context, monitorID int64, opts models.AlertOptions) error
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64) error
	LockAlert(ctx context.Context, alertID int64) error
	UnlockAlert(ctx context.Context, alertID int64) error
	SolveAlertIssues(ctx context.Context, alertID int64) error

	CreateNotification(ctx context.Context, monitorID, alertID int64, target string, minPriority models.Priority, data map[string]any) (*models.Notification, error)
	ListActiveNotifications(ctx context.Context, alertID int64) ([]models.Notification, error)

	GetVariable(ctx context.Context, monitorID int64, name string) (string, bool, error)
	SetVariable(ctx context.Context, monitorID int64, name, value string) error
}

// RequestHandlerFunc serves one namespaced request action.
type RequestHandlerFunc func(ctx context.Context, params map[string]any) error

// Executor is the work-consuming half of the engine.
type Executor struct {
	store     Store
	registry  *registry.Registry
	queue     queue.Queue
	userPools *database.UserPools
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time

	// extraHandlers serves namespaced request actions registered at
	// startup, keyed by full action name.
	extraHandlers map[string]RequestHandlerFunc

	processing atomic.Int64
	handled    atomic.Int64
}

// New builds the executor.
func New(store Store, reg *registry.Registry, q queue.Queue, userPools *database.UserPools, cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{
		store:         store,
		registry:      reg,
		queue:         q,
		userPools:     userPools,
		cfg:           cfg,
		logger:        logger.With("component", "executor"),
		now:           time.Now,
		extraHandlers: make(map[string]RequestHandlerFunc),
	}
}

// RegisterRequestHandler binds a handler to a namespaced action, e.g.
// "plugin.pagerduty.resync". Built-in actions cannot be overridden.
func (e *Executor) RegisterRequestHandler(action string, fn RequestHandlerFunc) {
	e.extraHandlers[action] = fn
}

// Run starts the worker pool and blocks until the context ends.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", "workers", e.cfg.ExecutorConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.ExecutorConcurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Executor) workerLoop(ctx context.Context, worker int) {
	logger := e.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := e.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to receive message", "error", err)
			sleepCtx(ctx, e.cfg.GetExecutorSleep())
			continue
		}
		if msg == nil {
			sleepCtx(ctx, e.cfg.GetExecutorSleep())
			continue
		}

		e.handleMessage(ctx, logger, msg)
	}
}

// handleMessage dispatches one message and always acks it. Failed monitor
// runs are rescheduled by the controller, failed reactions and requests are
// not retried.
func (e *Executor) handleMessage(ctx context.Context, logger *slog.Logger, msg *queue.Message) {
	// Shutdown stops intake in the worker loop. A message already received
	// runs to completion under its own handler timeouts.
	ctx = context.WithoutCancel(ctx)

	metrics.MessagesConsumed.WithLabelValues(string(msg.Kind)).Inc()
	metrics.MessagesProcessing.Inc()
	e.processing.Add(1)
	defer func() {
		metrics.MessagesProcessing.Dec()
		e.processing.Add(-1)
		e.handled.Add(1)
	}()

	var err error
	switch msg.Kind {
	case queue.KindMonitor:
		err = e.handleMonitorMessage(ctx, msg)
	case queue.KindEvent:
		err = e.handleEventMessage(ctx, msg.Payload)
	case queue.KindRequest:
		err = e.handleRequestMessage(ctx, msg.Payload)
	default:
		err = fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	if err != nil {
		metrics.MessagesErrors.WithLabelValues(string(msg.Kind)).Inc()
		logger.Error("message handling failed", "kind", msg.Kind, "error", err)
	}

	if ackErr := e.queue.Ack(ctx, msg); ackErr != nil {
		logger.Error("failed to ack message", "kind", msg.Kind, "error", ackErr)
	}
}

// decodePayload unmarshals a message payload into v.
func decodePayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Diagnostics reports the executor's view of its own health.
func (e *Executor) Diagnostics() map[string]any {
	return map[string]any{
		"workers":    e.cfg.ExecutorConcurrency,
		"processing": e.processing.Load(),
		"handled":    e.handled.Load(),
	}
}
