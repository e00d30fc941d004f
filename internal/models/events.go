package models

import (
	"time"

	"github.com/google/uuid"
)

// Event names are a closed set. State-transition operations emit exactly
// these names; reactions are bound to them.
const (
	EventAlertAcknowledgeDismissed = "alert_acknowledge_dismissed"
	EventAlertAcknowledged         = "alert_acknowledged"
	EventAlertCreated              = "alert_created"
	EventAlertIssuesLinked         = "alert_issues_linked"
	EventAlertLocked               = "alert_locked"
	EventAlertPriorityDecreased    = "alert_priority_decreased"
	EventAlertPriorityIncreased    = "alert_priority_increased"
	EventAlertSolved               = "alert_solved"
	EventAlertUnlocked             = "alert_unlocked"
	EventAlertUpdated              = "alert_updated"

	EventIssueCreated          = "issue_created"
	EventIssueDropped          = "issue_dropped"
	EventIssueLinked           = "issue_linked"
	EventIssueSolved           = "issue_solved"
	EventIssueUpdatedNotSolved = "issue_updated_not_solved"
	EventIssueUpdatedSolved    = "issue_updated_solved"

	EventMonitorEnabledChanged   = "monitor_enabled_changed"
	EventMonitorExecutionError   = "monitor_execution_error"
	EventMonitorExecutionSuccess = "monitor_execution_success"
	EventMonitorStuck            = "monitor_stuck"

	EventNotificationClosed  = "notification_closed"
	EventNotificationCreated = "notification_created"
)

// EventNames lists every event name a reaction can be bound to.
var EventNames = []string{
	EventAlertAcknowledgeDismissed,
	EventAlertAcknowledged,
	EventAlertCreated,
	EventAlertIssuesLinked,
	EventAlertLocked,
	EventAlertPriorityDecreased,
	EventAlertPriorityIncreased,
	EventAlertSolved,
	EventAlertUnlocked,
	EventAlertUpdated,
	EventIssueCreated,
	EventIssueDropped,
	EventIssueLinked,
	EventIssueSolved,
	EventIssueUpdatedNotSolved,
	EventIssueUpdatedSolved,
	EventMonitorEnabledChanged,
	EventMonitorExecutionError,
	EventMonitorExecutionSuccess,
	EventMonitorStuck,
	EventNotificationClosed,
	EventNotificationCreated,
}

// ValidEventName reports whether name belongs to the closed event set.
func ValidEventName(name string) bool {
	for _, n := range EventNames {
		if n == name {
			return true
		}
	}
	return false
}

// Event is an append-only record of a state transition. Events with a
// registered reaction are written with PendingPublish set and routed to the
// queue by the outbox flusher after commit.
type Event struct {
	ID                   uuid.UUID      `json:"id"`
	EventSource          string         `json:"event_source"`
	EventSourceID        int64          `json:"event_source_id"`
	EventSourceMonitorID int64          `json:"event_source_monitor_id"`
	EventName            string         `json:"event_name"`
	EventData            map[string]any `json:"event_data"`
	ExtraPayload         map[string]any `json:"extra_payload,omitempty"`
	PendingPublish       bool           `json:"-"`
	CreatedAt            time.Time      `json:"created_at"`
}

// EventPayload is the message body delivered to reactions.
type EventPayload struct {
	EventSource          string         `json:"event_source"`
	EventSourceID        int64          `json:"event_source_id"`
	EventSourceMonitorID int64          `json:"event_source_monitor_id"`
	EventName            string         `json:"event_name"`
	EventData            map[string]any `json:"event_data"`
	ExtraPayload         map[string]any `json:"extra_payload,omitempty"`
}

// Payload converts a stored event into the message body for reactions.
func (e Event) Payload() EventPayload {
	return EventPayload{
		EventSource:          e.EventSource,
		EventSourceID:        e.EventSourceID,
		EventSourceMonitorID: e.EventSourceMonitorID,
		EventName:            e.EventName,
		EventData:            e.EventData,
		ExtraPayload:         e.ExtraPayload,
	}
}
