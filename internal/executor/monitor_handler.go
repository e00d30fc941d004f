package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/metrics"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

// registryRetryWait is how long a worker waits for a reload after a
// definition lookup miss. A new monitor registered by another process only
// exists here after the loader's next pass.
const registryRetryWait = 2 * time.Second

// Execution error types recorded on failed runs.
const (
	errorTypeTimeout       = "timeout"
	errorTypeNotRegistered = "not_registered"
	errorTypeSearch        = "search_error"
	errorTypeUpdate        = "update_error"
	errorTypeAlert         = "alert_error"
)

// handleMonitorMessage runs one monitor execution end to end.
func (e *Executor) handleMonitorMessage(ctx context.Context, msg *queue.Message) error {
	var payload queue.MonitorPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return err
	}

	token, err := e.store.BeginRun(ctx, payload.MonitorID)
	if err != nil {
		return err
	}
	if token == nil {
		// Another worker already took the run or the claim was reset.
		e.logger.Warn("monitor run already taken", "monitor_id", payload.MonitorID)
		return nil
	}

	startedAt := e.now()
	def := e.lookupDefinition(ctx, payload.MonitorID)
	if def == nil {
		metrics.MonitorsNotRegistered.Inc()
		return e.store.EndRun(ctx, payload.MonitorID, *token,
			models.ExecutionFailed, errorTypeNotRegistered, startedAt)
	}

	metrics.MonitorsRunning.Inc()
	defer metrics.MonitorsRunning.Dec()

	timeout := def.Options.ExecutionTimeout
	if timeout <= 0 {
		timeout = e.cfg.GetExecutorMonitorTimeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stopHeartbeat := e.startHeartbeat(ctx, cancel, msg, payload.MonitorID, *token)
	defer stopHeartbeat()

	runErr := e.runRoutines(runCtx, def, payload)
	stopHeartbeat()

	metrics.MonitorsProcessed.Inc()
	metrics.MonitorExecutionSeconds.Observe(e.now().Sub(startedAt).Seconds())

	status := models.ExecutionSuccess
	errorType := ""
	if runErr != nil {
		status = models.ExecutionFailed
		errorType = classifyRunError(runErr)
		if errorType == errorTypeTimeout {
			metrics.MonitorExecutionTimeouts.Inc()
		}
		metrics.MonitorExecutionErrors.WithLabelValues(errorType).Inc()
		e.logger.Error("monitor execution failed",
			"monitor", def.Name, "error_type", errorType, "error", runErr)
	}

	// End the run on the outer context, the run context may be dead.
	if err := e.store.EndRun(ctx, payload.MonitorID, *token, status, errorType, startedAt); err != nil {
		return err
	}
	return runErr
}

// lookupDefinition finds the monitor's definition, asking the loader for a
// refresh once before giving up.
func (e *Executor) lookupDefinition(ctx context.Context, monitorID int64) *registry.Definition {
	if def, ok := e.registry.ByID(monitorID); ok {
		return def
	}

	e.registry.SignalReload()
	sleepCtx(ctx, registryRetryWait)

	if def, ok := e.registry.ByID(monitorID); ok {
		return def
	}
	return nil
}

// startHeartbeat keeps the run alive: it extends the message's visibility
// and stamps the database heartbeat. Losing the run token cancels the run,
// another worker owns the monitor now.
func (e *Executor) startHeartbeat(ctx context.Context, cancelRun context.CancelFunc, msg *queue.Message, monitorID int64, token uuid.UUID) func() {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.GetExecutorMonitorHeartbeatTime())
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}

			if err := e.queue.ExtendVisibility(hbCtx, msg); err != nil && hbCtx.Err() == nil {
				e.logger.Warn("failed to extend message visibility",
					"monitor_id", monitorID, "error", err)
			}

			alive, err := e.store.Heartbeat(hbCtx, monitorID, token)
			if err != nil {
				if hbCtx.Err() == nil {
					e.logger.Warn("heartbeat failed", "monitor_id", monitorID, "error", err)
				}
				continue
			}
			if !alive {
				e.logger.Warn("run token lost, cancelling run", "monitor_id", monitorID)
				cancelRun()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}
}

// runRoutines executes the due routines in their fixed order: refresh what
// is known, solve what went away, search for what is new, then settle the
// alert.
func (e *Executor) runRoutines(ctx context.Context, def *registry.Definition, payload queue.MonitorPayload) error {
	tools := e.toolsFor(payload.MonitorID)

	if slices.Contains(payload.Tasks, "update") && def.Update != nil {
		if err := e.runUpdate(ctx, def, payload.MonitorID, tools); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}

	if def.IssueOptions.Solvable && def.IsSolved != nil {
		if err := e.runSolve(ctx, def, payload.MonitorID); err != nil {
			return fmt.Errorf("solve: %w", err)
		}
	}

	if slices.Contains(payload.Tasks, "search") {
		if err := e.runSearch(ctx, def, payload.MonitorID, tools); err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}

	if def.AlertOptions != nil {
		if err := e.store.RecomputeAlert(ctx, payload.MonitorID, *def.AlertOptions); err != nil {
			return fmt.Errorf("alert: %w", err)
		}
	}

	return nil
}

// runUpdate refreshes active issues with the monitor's update callback and
// solves the ones the refreshed data resolves.
func (e *Executor) runUpdate(ctx context.Context, def *registry.Definition, monitorID int64, tools registry.Tools) error {
	issues, err := e.store.ListActiveIssues(ctx, monitorID)
	if err != nil {
		return err
	}

	if len(issues) > 0 {
		issuesData := make([]map[string]any, len(issues))
		byModelID := make(map[string]*models.Issue, len(issues))
		for i := range issues {
			issuesData[i] = issues[i].Data
			byModelID[issues[i].ModelID] = &issues[i]
		}

		updated, err := def.Update(ctx, tools, issuesData)
		if err != nil {
			return err
		}

		for _, row := range updated {
			data := normalizeRow(row)
			modelID, ok := extractModelID(data, def.IssueOptions.ModelIDKey)
			if !ok {
				e.logger.Warn("update row without model id, skipping", "monitor", def.Name)
				continue
			}
			issue, ok := byModelID[modelID]
			if !ok {
				continue
			}

			solved := def.IssueOptions.Solvable && def.IsSolved != nil && def.IsSolved(data)
			if err := e.store.UpdateIssueData(ctx, issue, data, solved); err != nil {
				return err
			}
			if solved {
				if err := e.store.MarkIssueSolved(ctx, issue); err != nil {
					return err
				}
			}
		}
	}

	return e.store.SetUpdateExecutedAt(ctx, monitorID, e.now())
}

// runSolve closes active issues whose current data already satisfies the
// monitor's is-solved callback.
func (e *Executor) runSolve(ctx context.Context, def *registry.Definition, monitorID int64) error {
	issues, err := e.store.ListActiveIssues(ctx, monitorID)
	if err != nil {
		return err
	}

	for i := range issues {
		if def.IsSolved(issues[i].Data) {
			if err := e.store.MarkIssueSolved(ctx, &issues[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// runSearch creates issues from the monitor's search results. Rows are
// normalized, deduplicated by model id and capped by the creation limit.
// Rows whose data already satisfies the is-solved callback never become
// issues.
func (e *Executor) runSearch(ctx context.Context, def *registry.Definition, monitorID int64, tools registry.Tools) error {
	results, err := def.Search(ctx, tools)
	if err != nil {
		return err
	}

	maxCreation := def.Options.MaxIssuesCreation
	if maxCreation <= 0 {
		maxCreation = e.cfg.MaxIssuesCreation
	}

	seen := make(map[string]bool, len(results))
	created := 0
	for _, row := range results {
		data := normalizeRow(row)
		modelID, ok := extractModelID(data, def.IssueOptions.ModelIDKey)
		if !ok {
			e.logger.Warn("search row without model id, skipping", "monitor", def.Name)
			continue
		}
		if seen[modelID] {
			continue
		}
		seen[modelID] = true

		if def.IsSolved != nil && def.IsSolved(data) {
			continue
		}

		if created >= maxCreation {
			metrics.SearchLimitReached.Inc()
			e.logger.Warn("issue creation limit reached, truncating search results",
				"monitor", def.Name, "limit", maxCreation)
			break
		}

		issue, err := e.store.CreateIssue(ctx, monitorID, modelID, data, def.IssueOptions.Unique)
		if err != nil {
			return err
		}
		if issue != nil {
			created++
		}
	}

	return e.store.SetSearchExecutedAt(ctx, monitorID, e.now())
}

func classifyRunError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorTypeTimeout
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "search:"):
		return errorTypeSearch
	case strings.HasPrefix(msg, "update:"), strings.HasPrefix(msg, "solve:"):
		return errorTypeUpdate
	case strings.HasPrefix(msg, "alert:"):
		return errorTypeAlert
	default:
		return "internal_error"
	}
}
