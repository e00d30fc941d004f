// Package models defines the Sentinela domain model: monitors, the issues
// they surface, the alerts that aggregate issues, and the notifications and
// events produced along the way.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Monitor is a registered detection unit. The runtime state fields are
// mutated by the controller (queued) and the executor (running, heartbeat).
type Monitor struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	Queued  bool `json:"queued"`
	Running bool `json:"running"`

	QueuedAt                *time.Time `json:"queued_at,omitempty"`
	RunningAt               *time.Time `json:"running_at,omitempty"`
	SearchExecutedAt        *time.Time `json:"search_executed_at,omitempty"`
	UpdateExecutedAt        *time.Time `json:"update_executed_at,omitempty"`
	LastHeartbeat           *time.Time `json:"last_heartbeat,omitempty"`
	LastSuccessfulExecution *time.Time `json:"last_successful_execution,omitempty"`

	// RunToken is set while a run is in flight and guards heartbeat and
	// end-run updates against stale runs.
	RunToken *uuid.UUID `json:"-"`
}

// IssueStatus is the lifecycle state of an issue. Solved and dropped are
// terminal.
type IssueStatus string

const (
	IssueActive  IssueStatus = "active"
	IssueSolved  IssueStatus = "solved"
	IssueDropped IssueStatus = "dropped"
)

// Issue is one instance of a problem identified by a monitor, keyed by the
// model id extracted from the issue payload.
type Issue struct {
	ID        int64          `json:"id"`
	MonitorID int64          `json:"monitor_id"`
	AlertID   *int64         `json:"alert_id,omitempty"`
	ModelID   string         `json:"model_id"`
	Status    IssueStatus    `json:"status"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	SolvedAt  *time.Time     `json:"solved_at,omitempty"`
	DroppedAt *time.Time     `json:"dropped_at,omitempty"`
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive AlertStatus = "active"
	AlertSolved AlertStatus = "solved"
)

// Alert aggregates a monitor's active issues under a single priority.
type Alert struct {
	ID        int64       `json:"id"`
	MonitorID int64       `json:"monitor_id"`
	Status    AlertStatus `json:"status"`
	Priority  Priority    `json:"priority"`
	Locked    bool        `json:"locked"`

	Acknowledged bool `json:"acknowledged"`
	// AcknowledgePriority is the priority the alert had when it was
	// acknowledged. The acknowledgement only covers priorities at or
	// below that level.
	AcknowledgePriority *Priority `json:"acknowledge_priority,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SolvedAt  *time.Time `json:"solved_at,omitempty"`
}

// IsPriorityAcknowledged reports whether the alert's current priority is
// covered by a previous acknowledgement.
func (a *Alert) IsPriorityAcknowledged() bool {
	if !a.Acknowledged || a.AcknowledgePriority == nil {
		return false
	}
	return *a.AcknowledgePriority <= a.Priority
}

// NotificationStatus is the lifecycle state of a notification. Closed is
// terminal.
type NotificationStatus string

const (
	NotificationActive NotificationStatus = "active"
	NotificationClosed NotificationStatus = "closed"
)

// Notification is an outbound channel instance tied to one alert. Target is
// an opaque channel-specific handle (channel plus message id).
type Notification struct {
	ID                int64              `json:"id"`
	MonitorID         int64              `json:"monitor_id"`
	AlertID           int64              `json:"alert_id"`
	Target            string             `json:"target"`
	Status            NotificationStatus `json:"status"`
	MinPriorityToSend Priority           `json:"min_priority_to_send"`
	Data              map[string]any     `json:"data,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	ClosedAt          *time.Time         `json:"closed_at,omitempty"`
}

// ExecutionStatus is the outcome of one monitor run.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// MonitorExecution records one completed monitor run.
type MonitorExecution struct {
	ID         int64           `json:"id"`
	MonitorID  int64           `json:"monitor_id"`
	Status     ExecutionStatus `json:"status"`
	ErrorType  string          `json:"error_type,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Variable is a per-monitor key/value blob accessible from the monitor's
// own callbacks.
type Variable struct {
	ID        int64     `json:"id"`
	MonitorID int64     `json:"monitor_id"`
	Name      string    `json:"name"`
	Value     *string   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
