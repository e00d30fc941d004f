package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
)

// Built-in request actions.
const (
	ActionAlertAcknowledge = "alert_acknowledge"
	ActionAlertLock        = "alert_lock"
	ActionAlertUnlock      = "alert_unlock"
	ActionAlertSolve       = "alert_solve"
	ActionIssueDrop        = "issue_drop"
	ActionMonitorEnable    = "monitor_enable"
	ActionMonitorDisable   = "monitor_disable"
	ActionMonitorRegister  = "monitor_register"
)

// handleRequestMessage serves one operator request. Actions with a dot are
// namespaced and routed to handlers registered at startup.
func (e *Executor) handleRequestMessage(ctx context.Context, payload json.RawMessage) error {
	var request queue.RequestPayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.GetExecutorRequestTimeout())
	defer cancel()

	e.logger.Info("handling request", "action", request.Action)

	if strings.Contains(request.Action, ".") {
		handler, ok := e.extraHandlers[request.Action]
		if !ok {
			return fmt.Errorf("no handler registered for action %q", request.Action)
		}
		return handler(reqCtx, request.Params)
	}

	switch request.Action {
	case ActionAlertAcknowledge:
		id, err := paramID(request.Params, "alert_id")
		if err != nil {
			return err
		}
		return e.store.AcknowledgeAlert(reqCtx, id)

	case ActionAlertLock:
		id, err := paramID(request.Params, "alert_id")
		if err != nil {
			return err
		}
		return e.store.LockAlert(reqCtx, id)

	case ActionAlertUnlock:
		id, err := paramID(request.Params, "alert_id")
		if err != nil {
			return err
		}
		return e.store.UnlockAlert(reqCtx, id)

	case ActionAlertSolve:
		id, err := paramID(request.Params, "alert_id")
		if err != nil {
			return err
		}
		return e.store.SolveAlertIssues(reqCtx, id)

	case ActionIssueDrop:
		id, err := paramID(request.Params, "issue_id")
		if err != nil {
			return err
		}
		issue, err := e.store.GetIssue(reqCtx, id)
		if err != nil {
			return err
		}
		if issue == nil {
			return fmt.Errorf("issue %d not found", id)
		}
		return e.store.MarkIssueDropped(reqCtx, issue)

	case ActionMonitorEnable, ActionMonitorDisable:
		monitor, err := e.requestMonitor(reqCtx, request.Params)
		if err != nil {
			return err
		}
		return e.store.SetMonitorEnabled(reqCtx, monitor.ID, request.Action == ActionMonitorEnable)

	case ActionMonitorRegister:
		name, _ := request.Params["monitor_name"].(string)
		if name == "" {
			return fmt.Errorf("monitor_register requires monitor_name")
		}
		if _, err := e.store.UpsertMonitorByName(reqCtx, name); err != nil {
			return err
		}
		e.registry.SignalReload()
		return nil

	default:
		return fmt.Errorf("unknown request action %q", request.Action)
	}
}

// requestMonitor resolves the monitor addressed by a request, by id or by
// name.
func (e *Executor) requestMonitor(ctx context.Context, params map[string]any) (*models.Monitor, error) {
	if name, _ := params["monitor_name"].(string); name != "" {
		monitor, err := e.store.GetMonitorByName(ctx, models.NormalizeMonitorName(name))
		if err != nil {
			return nil, err
		}
		if monitor == nil {
			return nil, fmt.Errorf("monitor %q not found", name)
		}
		return monitor, nil
	}

	id, err := paramID(params, "monitor_id")
	if err != nil {
		return nil, err
	}
	monitor, err := e.store.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor %d not found", id)
	}
	return monitor, nil
}

// paramID reads a numeric id parameter. JSON decoding delivers numbers as
// float64.
func paramID(params map[string]any, key string) (int64, error) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("request requires a numeric %s", key)
	}
}
