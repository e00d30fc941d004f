package models

import "time"

// MonitorOptions is the primary scheduling configuration of a monitor.
// Empty cron expressions disable the corresponding routine. Zero values for
// MaxIssuesCreation and ExecutionTimeout fall back to the global defaults.
type MonitorOptions struct {
	SearchCron        string
	UpdateCron        string
	MaxIssuesCreation int
	ExecutionTimeout  time.Duration
}

// IssueOptions controls how a monitor's issues are identified and resolved.
type IssueOptions struct {
	// ModelIDKey is the key in the issue payload that uniquely
	// identifies the issue.
	ModelIDKey string
	// Solvable issues can be resolved automatically through the
	// monitor's is_solved callback. Non-solvable issues require manual
	// intervention.
	Solvable bool
	// Unique prevents a second issue with the same model id from ever
	// being created for the monitor, even after the first one reaches a
	// terminal state.
	Unique bool
}

// AlertOptions configures alert aggregation for a monitor. A monitor
// without alert options never creates alerts.
type AlertOptions struct {
	Rule                          Rule
	DismissAcknowledgeOnNewIssues bool
}
