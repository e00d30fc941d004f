package monitors

import (
	"context"
	"strconv"

	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/registry"
)

// sampleDefinitions are loaded only with load_sample_monitors on. They
// exercise the whole issue and alert lifecycle without external
// dependencies, which makes them handy for smoke tests of a fresh
// deployment.
func sampleDefinitions() []*registry.Definition {
	return []*registry.Definition{
		sampleCounterMonitor(),
	}
}

// sampleCounterMonitor creates one issue per run up to a small cap and
// solves them once the per-monitor counter variable passes the cap again.
func sampleCounterMonitor() *registry.Definition {
	const maxIssues = 3

	return &registry.Definition{
		Name: "sample_counter",
		Options: models.MonitorOptions{
			SearchCron: "*/2 * * * *",
			UpdateCron: "* * * * *",
		},
		IssueOptions: models.IssueOptions{
			ModelIDKey: "counter",
			Solvable:   true,
		},
		AlertOptions: &models.AlertOptions{
			Rule: models.CountRule{Levels: models.PriorityLevels{
				Informational: floatPtr(0),
				Low:           floatPtr(1),
				Moderate:      floatPtr(2),
			}},
		},

		Search: func(ctx context.Context, tools registry.Tools) ([]map[string]any, error) {
			raw, _, err := tools.GetVariable(ctx, "counter")
			if err != nil {
				return nil, err
			}
			counter, _ := strconv.Atoi(raw)

			counter++
			if err := tools.SetVariable(ctx, "counter", strconv.Itoa(counter)); err != nil {
				return nil, err
			}
			if counter > maxIssues {
				return nil, nil
			}
			return []map[string]any{{"counter": counter, "solved": false}}, nil
		},
		Update: func(ctx context.Context, tools registry.Tools, issuesData []map[string]any) ([]map[string]any, error) {
			raw, _, err := tools.GetVariable(ctx, "counter")
			if err != nil {
				return nil, err
			}
			counter, _ := strconv.Atoi(raw)

			updated := make([]map[string]any, 0, len(issuesData))
			for _, data := range issuesData {
				data["solved"] = counter > 2*maxIssues
				updated = append(updated, data)
			}
			return updated, nil
		},
		IsSolved: func(issueData map[string]any) bool {
			solved, _ := issueData["solved"].(bool)
			return solved
		},
	}
}
