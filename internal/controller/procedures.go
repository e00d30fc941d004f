package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/registry"
)

// Janitorial procedure names, matched against the controller_procedures
// configuration keys.
const (
	ProcedureMonitorsStuck       = "monitors_stuck"
	ProcedureNotificationsSolved = "notifications_alert_solved"
	ProcedureCleanEvents         = "clean_events"
)

// Procedure defaults, used when the configuration leaves them out.
const (
	defaultStuckTolerance     = 10 * time.Minute
	defaultNotificationGrace  = 5 * time.Minute
	defaultEventRetentionDays = 90
)

var defaultProcedureSchedules = map[string]string{
	ProcedureMonitorsStuck:       "* * * * *",
	ProcedureNotificationsSolved: "* * * * *",
	ProcedureCleanEvents:         "0 3 * * *",
}

type procedureFunc func(ctx context.Context, params map[string]any) error

// startProcedures launches one goroutine per janitorial procedure. Each one
// runs on its own cron schedule.
func (c *Controller) startProcedures(ctx context.Context, wg *sync.WaitGroup) {
	procedures := map[string]procedureFunc{
		ProcedureMonitorsStuck:       c.procedureMonitorsStuck,
		ProcedureNotificationsSolved: c.procedureNotificationsSolved,
		ProcedureCleanEvents:         c.procedureCleanEvents,
	}

	for name, fn := range procedures {
		procCfg := c.cfg.ControllerProcedures[name]
		schedule := procCfg.Schedule
		if schedule == "" {
			schedule = defaultProcedureSchedules[name]
		}

		sched, err := registry.ParseCron(schedule)
		if err != nil {
			c.logger.Error("invalid procedure schedule, procedure disabled",
				"procedure", name, "schedule", schedule, "error", err)
			continue
		}

		wg.Add(1)
		go func(name string, fn procedureFunc, sched cronSchedule, params map[string]any) {
			defer wg.Done()
			c.runProcedure(ctx, name, fn, sched, params)
		}(name, fn, sched, procCfg.Params)
	}
}

func (c *Controller) runProcedure(ctx context.Context, name string, fn procedureFunc, sched cronSchedule, params map[string]any) {
	logger := c.logger.With("procedure", name)
	for {
		next := sched.Next(c.now())
		timer := time.NewTimer(next.Sub(c.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := fn(ctx, params); err != nil && ctx.Err() == nil {
			logger.Error("procedure failed", "error", err)
		}
	}
}

// procedureMonitorsStuck frees monitors whose claim or run went silent for
// longer than the tolerance.
func (c *Controller) procedureMonitorsStuck(ctx context.Context, params map[string]any) error {
	tolerance := paramDuration(params, "time_tolerance", defaultStuckTolerance)

	stuck, err := c.store.ListStuckMonitors(ctx, tolerance)
	if err != nil {
		return err
	}

	for _, monitor := range stuck {
		if err := c.store.ResetStuckMonitor(ctx, monitor.ID); err != nil {
			c.logger.Error("failed to reset stuck monitor", "monitor", monitor.Name, "error", err)
			continue
		}
		c.logger.Warn("stuck monitor reset", "monitor", monitor.Name)
	}
	return nil
}

// procedureNotificationsSolved closes notifications whose alert has been
// solved for longer than the grace period.
func (c *Controller) procedureNotificationsSolved(ctx context.Context, params map[string]any) error {
	grace := paramDuration(params, "grace_period", defaultNotificationGrace)

	notifications, err := c.store.ListNotificationsForSolvedAlerts(ctx, grace)
	if err != nil {
		return err
	}

	for _, notification := range notifications {
		if err := c.store.CloseNotification(ctx, notification.ID); err != nil {
			c.logger.Error("failed to close notification",
				"notification_id", notification.ID, "error", err)
		}
	}
	return nil
}

// procedureCleanEvents deletes events past the retention window.
func (c *Controller) procedureCleanEvents(ctx context.Context, params map[string]any) error {
	days := paramInt(params, "retention_days", defaultEventRetentionDays)

	deleted, err := c.store.DeleteOldEvents(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.logger.Info("old events deleted", "count", deleted, "retention_days", days)
	}
	return nil
}

// paramDuration reads a seconds parameter. YAML numbers arrive as int,
// float64 also shows up after JSON round-trips.
func paramDuration(params map[string]any, key string, fallback time.Duration) time.Duration {
	if n := paramInt(params, key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
