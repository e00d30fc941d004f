// Package registry holds the monitor definitions known to the process and
// keeps them bound to the monitor rows the controller manages.
package registry

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/sentinela/sentinela/internal/models"
)

// Tools is the facility handed to monitor callbacks. It gives them read
// access to the configured user database pools and per-monitor variables,
// and nothing else.
type Tools interface {
	Query(ctx context.Context, pool, sql string, args ...any) ([]map[string]any, error)
	GetVariable(ctx context.Context, name string) (string, bool, error)
	SetVariable(ctx context.Context, name, value string) error
}

// SearchFunc finds current problems. Each returned map is one issue's data
// and must carry the definition's model ID key.
type SearchFunc func(ctx context.Context, tools Tools) ([]map[string]any, error)

// UpdateFunc refreshes the data of active issues. It receives the current
// data of each issue and returns the refreshed rows, matched back by model
// ID.
type UpdateFunc func(ctx context.Context, tools Tools, issuesData []map[string]any) ([]map[string]any, error)

// IsSolvedFunc decides whether an issue's current data means the problem is
// gone.
type IsSolvedFunc func(issueData map[string]any) bool

// ReactionFunc runs in response to one event of the monitor.
type ReactionFunc struct {
	Name string
	Fn   func(ctx context.Context, tools Tools, event models.EventPayload) error
}

// NotificationTarget declares where alerts of this monitor notify.
type NotificationTarget struct {
	Target            string
	MinPriorityToSend models.Priority
}

// Definition is the code side of a monitor: its callbacks and options.
// The name is normalized at registration, the database row carrying the
// same name is the state side.
type Definition struct {
	Name string

	Options      models.MonitorOptions
	IssueOptions models.IssueOptions
	AlertOptions *models.AlertOptions

	Search   SearchFunc
	Update   UpdateFunc
	IsSolved IsSolvedFunc

	Reactions     map[string][]ReactionFunc
	Notifications []NotificationTarget
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate checks a definition for the mistakes that would otherwise only
// surface mid-execution.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("monitor name is required")
	}
	if d.Name != models.NormalizeMonitorName(d.Name) {
		return fmt.Errorf("monitor name %q is not normalized", d.Name)
	}
	if d.Search == nil {
		return fmt.Errorf("monitor %s: search callback is required", d.Name)
	}
	if d.IssueOptions.ModelIDKey == "" {
		return fmt.Errorf("monitor %s: issue_options.model_id_key is required", d.Name)
	}

	if d.Options.SearchCron != "" {
		if _, err := ParseCron(d.Options.SearchCron); err != nil {
			return fmt.Errorf("monitor %s: invalid search cron %q: %w", d.Name, d.Options.SearchCron, err)
		}
	}
	if d.Options.UpdateCron != "" {
		if _, err := ParseCron(d.Options.UpdateCron); err != nil {
			return fmt.Errorf("monitor %s: invalid update cron %q: %w", d.Name, d.Options.UpdateCron, err)
		}
	}
	if d.Options.UpdateCron != "" && d.Update == nil {
		return fmt.Errorf("monitor %s: update cron set without an update callback", d.Name)
	}

	if d.AlertOptions != nil {
		if d.AlertOptions.Rule == nil {
			return fmt.Errorf("monitor %s: alert_options.rule is required", d.Name)
		}
		if err := d.AlertOptions.Rule.Validate(); err != nil {
			return fmt.Errorf("monitor %s: invalid alert rule: %w", d.Name, err)
		}
	}

	for eventName := range d.Reactions {
		if !models.ValidEventName(eventName) {
			return fmt.Errorf("monitor %s: reaction bound to unknown event %q", d.Name, eventName)
		}
	}

	return nil
}
