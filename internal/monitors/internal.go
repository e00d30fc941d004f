package monitors

import (
	"context"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/registry"
)

// applicationPool is the pool name the engine's own database is exposed
// under.
const applicationPool = "application"

const internalNotificationMinPriority = models.PriorityModerate

func floatPtr(v float64) *float64 { return &v }

// internalDefinitions are the monitors that watch the engine itself. They
// query the application database through the regular tools facility, the
// same way user monitors query their pools.
func internalDefinitions(cfg *config.Config) []*registry.Definition {
	notifications := notificationTargets(cfg)

	return []*registry.Definition{
		stuckExecutionsMonitor(notifications),
		failedExecutionsMonitor(notifications),
	}
}

// stuckExecutionsMonitor raises an issue for every monitor that has been
// marked running without a heartbeat for over half an hour. The janitorial
// procedure resets those rows, this monitor makes the pattern visible when
// it repeats.
func stuckExecutionsMonitor(notifications []registry.NotificationTarget) *registry.Definition {
	return &registry.Definition{
		Name: "sentinela_stuck_executions",
		Options: models.MonitorOptions{
			SearchCron: "*/10 * * * *",
			UpdateCron: "*/10 * * * *",
		},
		IssueOptions: models.IssueOptions{
			ModelIDKey: "monitor_name",
			Solvable:   true,
		},
		AlertOptions: &models.AlertOptions{
			Rule: models.AgeRule{Levels: models.PriorityLevels{
				Moderate: floatPtr(3600),
				High:     floatPtr(3 * 3600),
			}},
		},
		Notifications: notifications,

		Search: func(ctx context.Context, tools registry.Tools) ([]map[string]any, error) {
			return tools.Query(ctx, applicationPool, `
				SELECT name AS monitor_name, 1 AS stuck
				FROM monitors
				WHERE running AND COALESCE(last_heartbeat, running_at) < now() - interval '30 minutes'`)
		},
		Update: func(ctx context.Context, tools registry.Tools, issuesData []map[string]any) ([]map[string]any, error) {
			names := make([]string, 0, len(issuesData))
			for _, data := range issuesData {
				if name, ok := data["monitor_name"].(string); ok {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				return nil, nil
			}
			return tools.Query(ctx, applicationPool, `
				SELECT name AS monitor_name,
					CASE WHEN running AND COALESCE(last_heartbeat, running_at) < now() - interval '30 minutes'
						THEN 1 ELSE 0 END AS stuck
				FROM monitors WHERE name = ANY($1)`, names)
		},
		IsSolved: func(issueData map[string]any) bool {
			stuck, ok := issueData["stuck"]
			if !ok {
				return false
			}
			switch v := stuck.(type) {
			case int64:
				return v == 0
			case int:
				return v == 0
			case float64:
				return v == 0
			default:
				return false
			}
		},
	}
}

// failedExecutionsMonitor raises an issue for monitors whose executions
// kept failing over the last hour.
func failedExecutionsMonitor(notifications []registry.NotificationTarget) *registry.Definition {
	return &registry.Definition{
		Name: "sentinela_failed_executions",
		Options: models.MonitorOptions{
			SearchCron: "*/15 * * * *",
			UpdateCron: "*/15 * * * *",
		},
		IssueOptions: models.IssueOptions{
			ModelIDKey: "monitor_name",
			Solvable:   true,
		},
		AlertOptions: &models.AlertOptions{
			Rule: models.ValueRule{
				Key:       "failures",
				Operation: models.OperationGreaterThan,
				Levels: models.PriorityLevels{
					Moderate: floatPtr(5),
					High:     floatPtr(20),
				},
			},
			DismissAcknowledgeOnNewIssues: true,
		},
		Notifications: notifications,

		Search: func(ctx context.Context, tools registry.Tools) ([]map[string]any, error) {
			return tools.Query(ctx, applicationPool, `
				SELECT m.name AS monitor_name, count(*) AS failures
				FROM monitor_executions e
				JOIN monitors m ON m.id = e.monitor_id
				WHERE e.status = 'failed' AND e.finished_at > now() - interval '1 hour'
				GROUP BY m.name
				HAVING count(*) > 3`)
		},
		Update: func(ctx context.Context, tools registry.Tools, issuesData []map[string]any) ([]map[string]any, error) {
			names := make([]string, 0, len(issuesData))
			for _, data := range issuesData {
				if name, ok := data["monitor_name"].(string); ok {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				return nil, nil
			}
			return tools.Query(ctx, applicationPool, `
				SELECT m.name AS monitor_name, count(*) FILTER (
					WHERE e.status = 'failed' AND e.finished_at > now() - interval '1 hour'
				) AS failures
				FROM monitors m
				LEFT JOIN monitor_executions e ON e.monitor_id = m.id
				WHERE m.name = ANY($1)
				GROUP BY m.name`, names)
		},
		IsSolved: func(issueData map[string]any) bool {
			failures, ok := issueData["failures"]
			if !ok {
				return false
			}
			switch v := failures.(type) {
			case int64:
				return v == 0
			case float64:
				return v == 0
			default:
				return false
			}
		},
	}
}
