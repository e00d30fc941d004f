package queue

// MonitorPayload asks the executor to run a monitor. Tasks lists the
// routines the controller found due, "search" and "update".
type MonitorPayload struct {
	MonitorID int64    `json:"monitor_id"`
	Tasks     []string `json:"tasks"`
}

// RequestPayload asks the executor to perform an action on behalf of an
// operator or an external system.
type RequestPayload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}
