package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentinela/sentinela/internal/metrics"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/registry"
)

// handleEventMessage runs the reactions bound to an event and drives the
// notification machinery for alert transitions. Reaction failures don't
// stop the remaining reactions.
func (e *Executor) handleEventMessage(ctx context.Context, payload json.RawMessage) error {
	var event models.EventPayload
	if err := decodePayload(payload, &event); err != nil {
		return err
	}

	def, ok := e.registry.ByID(event.EventSourceMonitorID)
	if !ok {
		e.logger.Warn("event for unknown monitor, dropping",
			"event", event.EventName, "monitor_id", event.EventSourceMonitorID)
		return nil
	}

	tools := e.toolsFor(event.EventSourceMonitorID)
	for _, reaction := range def.Reactions[event.EventName] {
		if err := e.runReaction(ctx, reaction, tools, event); err != nil {
			metrics.ReactionErrors.Inc()
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.ReactionTimeouts.Inc()
			}
			e.logger.Error("reaction failed", "monitor", def.Name,
				"event", event.EventName, "reaction", reaction.Name, "error", err)
		}
	}

	return e.handleNotifications(ctx, def, event)
}

func (e *Executor) runReaction(ctx context.Context, reaction registry.ReactionFunc, tools registry.Tools, event models.EventPayload) error {
	reactionCtx, cancel := context.WithTimeout(ctx, e.cfg.GetExecutorReactionTimeout())
	defer cancel()
	return reaction.Fn(reactionCtx, tools, event)
}

// handleNotifications opens notifications when an alert reaches a target's
// priority threshold. Closing solved alerts' notifications is the
// janitorial procedure's job, the grace period lets flapping alerts settle.
func (e *Executor) handleNotifications(ctx context.Context, def *registry.Definition, event models.EventPayload) error {
	if len(def.Notifications) == 0 {
		return nil
	}

	switch event.EventName {
	case models.EventAlertCreated, models.EventAlertPriorityIncreased:
	default:
		return nil
	}

	alert, err := e.store.GetAlert(ctx, event.EventSourceID)
	if err != nil {
		return err
	}
	if alert == nil || alert.Status != models.AlertActive || alert.Priority == models.PriorityNone {
		return nil
	}
	if alert.IsPriorityAcknowledged() {
		return nil
	}

	active, err := e.store.ListActiveNotifications(ctx, alert.ID)
	if err != nil {
		return err
	}
	notified := make(map[string]bool, len(active))
	for _, n := range active {
		notified[n.Target] = true
	}

	for _, target := range def.Notifications {
		// Lower numbers are more urgent, the alert must be at or above
		// the target's threshold.
		if alert.Priority > target.MinPriorityToSend || notified[target.Target] {
			continue
		}

		_, err := e.store.CreateNotification(ctx, alert.MonitorID, alert.ID,
			target.Target, target.MinPriorityToSend, map[string]any{
				"priority": alert.Priority.String(),
				"event":    event.EventName,
			})
		if err != nil {
			return fmt.Errorf("failed to notify %s: %w", target.Target, err)
		}
		e.logger.Info("notification created", "monitor", def.Name,
			"alert_id", alert.ID, "target", target.Target)
	}
	return nil
}
