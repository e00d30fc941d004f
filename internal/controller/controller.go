// Package controller decides when monitors run. On every tick it walks the
// enabled monitors, figures out which routines their crons made due, claims
// the monitor and hands the work to the queue. It also runs the janitorial
// procedures that keep the tables healthy.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/metrics"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

// Store is the slice of the data layer the controller uses.
type Store interface {
	GetEnabledMonitors(ctx context.Context) ([]models.Monitor, error)
	ClaimMonitorForRun(ctx context.Context, id int64) (bool, error)
	RevertClaim(ctx context.Context, id int64) error

	ListStuckMonitors(ctx context.Context, tolerance time.Duration) ([]models.Monitor, error)
	ResetStuckMonitor(ctx context.Context, id int64) error
	ListNotificationsForSolvedAlerts(ctx context.Context, grace time.Duration) ([]models.Notification, error)
	CloseNotification(ctx context.Context, id int64) error
	DeleteOldEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// Controller is the scheduling half of the engine.
type Controller struct {
	store    Store
	registry *registry.Registry
	queue    queue.Queue
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastTick   time.Time
	lastQueued int
}

// New builds the controller. Its clock runs in the configured time zone so
// cron schedules fire in local terms.
func New(store Store, reg *registry.Registry, q queue.Queue, cfg *config.Config, logger *slog.Logger) *Controller {
	loc := cfg.Location()
	return &Controller{
		store:    store,
		registry: reg,
		queue:    q,
		cfg:      cfg,
		logger:   logger.With("component", "controller"),
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

// cronSchedule is the slice of cron.Schedule the controller uses.
type cronSchedule interface {
	Next(time.Time) time.Time
}

// isTriggered reports whether the cron made a routine due: the first firing
// after the last execution already passed. A routine that never ran is due
// immediately.
func isTriggered(sched cronSchedule, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return !sched.Next(*last).After(now)
}

// Run ticks on the process schedule and runs the janitorial procedures
// until the context ends.
func (c *Controller) Run(ctx context.Context) error {
	sched, err := registry.ParseCron(c.cfg.ControllerProcessSchedule)
	if err != nil {
		return fmt.Errorf("invalid controller process schedule %q: %w", c.cfg.ControllerProcessSchedule, err)
	}

	var wg sync.WaitGroup
	c.startProcedures(ctx, &wg)
	defer wg.Wait()

	c.logger.Info("controller started", "schedule", c.cfg.ControllerProcessSchedule)
	for {
		next := sched.Next(c.now())
		timer := time.NewTimer(next.Sub(c.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		c.tick(ctx)
	}
}

// tick schedules every due monitor, bounded by the controller concurrency.
func (c *Controller) tick(ctx context.Context) {
	now := c.now()
	monitors, err := c.store.GetEnabledMonitors(ctx)
	if err != nil {
		c.logger.Error("failed to list monitors", "error", err)
		return
	}

	sem := make(chan struct{}, c.cfg.ControllerConcurrency)
	var wg sync.WaitGroup
	var queued int
	var mu sync.Mutex

	for _, monitor := range monitors {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(monitor models.Monitor) {
			defer wg.Done()
			defer func() { <-sem }()

			if c.processMonitor(ctx, monitor, now) {
				mu.Lock()
				queued++
				mu.Unlock()
			}
		}(monitor)
	}
	wg.Wait()

	c.mu.Lock()
	c.lastTick = now
	c.lastQueued = queued
	c.mu.Unlock()

	if queued > 0 {
		c.logger.Info("monitors scheduled", "queued", queued, "enabled", len(monitors))
	}
}

// processMonitor queues one monitor when any of its routines is due.
// Reports whether it was queued.
func (c *Controller) processMonitor(ctx context.Context, monitor models.Monitor, now time.Time) bool {
	def, ok := c.registry.ByID(monitor.ID)
	if !ok {
		metrics.MonitorsNotRegistered.Inc()
		c.logger.Warn("monitor not registered, skipping", "monitor", monitor.Name)
		return false
	}

	tasks := c.dueTasks(def, monitor, now)
	if len(tasks) == 0 {
		return false
	}

	claimed, err := c.store.ClaimMonitorForRun(ctx, monitor.ID)
	if err != nil {
		c.logger.Error("failed to claim monitor", "monitor", monitor.Name, "error", err)
		return false
	}
	if !claimed {
		return false
	}

	payload := queue.MonitorPayload{MonitorID: monitor.ID, Tasks: tasks}
	if err := c.queue.Send(ctx, queue.KindMonitor, payload); err != nil {
		metrics.TaskQueueErrors.Inc()
		c.logger.Error("failed to enqueue monitor, reverting claim",
			"monitor", monitor.Name, "error", err)
		if revertErr := c.store.RevertClaim(ctx, monitor.ID); revertErr != nil {
			c.logger.Error("failed to revert claim", "monitor", monitor.Name, "error", revertErr)
		}
		return false
	}

	c.logger.Debug("monitor queued", "monitor", monitor.Name, "tasks", tasks)
	return true
}

// dueTasks returns the routines whose cron fired since their last
// execution.
func (c *Controller) dueTasks(def *registry.Definition, monitor models.Monitor, now time.Time) []string {
	var tasks []string

	if def.Options.SearchCron != "" {
		sched, err := registry.ParseCron(def.Options.SearchCron)
		if err == nil && isTriggered(sched, monitor.SearchExecutedAt, now) {
			tasks = append(tasks, "search")
		}
	}
	if def.Options.UpdateCron != "" && def.Update != nil {
		sched, err := registry.ParseCron(def.Options.UpdateCron)
		if err == nil && isTriggered(sched, monitor.UpdateExecutedAt, now) {
			tasks = append(tasks, "update")
		}
	}
	return tasks
}

// Diagnostics reports the controller's view of its own health.
func (c *Controller) Diagnostics() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	diag := map[string]any{
		"registered_monitors": c.registry.Size(),
		"last_queued":         c.lastQueued,
	}
	if !c.lastTick.IsZero() {
		diag["last_tick"] = c.lastTick
	}
	return diag
}
