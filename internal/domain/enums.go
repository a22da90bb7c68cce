// Package domain defines the core domain models for the assistant service.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// runTransitions is the run state graph. Anything not listed is illegal.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued: {RunStatusInProgress},
	RunStatusInProgress: {
		RunStatusRequiresAction,
		RunStatusCompleted,
		RunStatusFailed,
		RunStatusCancelled,
		RunStatusExpired,
	},
	RunStatusRequiresAction: {RunStatusInProgress, RunStatusExpired, RunStatusCancelled},
}

// IsTerminal reports whether no further transition is possible from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction:
		return true
	}
	return s.IsTerminal()
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RunStepType represents the kind of a run step.
type RunStepType string

const (
	RunStepTypeMessageCreation RunStepType = "message_creation"
	RunStepTypeToolCalls       RunStepType = "tool_calls"
)

// RunStepStatus represents the status of a run step.
type RunStepStatus string

const (
	RunStepStatusInProgress RunStepStatus = "in_progress"
	RunStepStatusCompleted  RunStepStatus = "completed"
	RunStepStatusFailed     RunStepStatus = "failed"
	RunStepStatusCancelled  RunStepStatus = "cancelled"
	RunStepStatusExpired    RunStepStatus = "expired"
)

// IsTerminal reports whether the step has finished.
func (s RunStepStatus) IsTerminal() bool {
	return s != RunStepStatusInProgress
}

// StepStatusFor maps a terminal run status to the status an unfinished step
// receives when the run ends.
func StepStatusFor(run RunStatus) RunStepStatus {
	switch run {
	case RunStatusCompleted:
		return RunStepStatusCompleted
	case RunStatusCancelled:
		return RunStepStatusCancelled
	case RunStatusExpired:
		return RunStepStatusExpired
	default:
		return RunStepStatusFailed
	}
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is an accepted role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ListOrder is the sort direction of list operations.
type ListOrder string

const (
	ListOrderAsc  ListOrder = "asc"
	ListOrderDesc ListOrder = "desc"
)

// ErrorCode classifies a run's last error.
type ErrorCode string

const (
	ErrorCodeServerError         ErrorCode = "server_error"
	ErrorCodeInvalidRequestError ErrorCode = "invalid_request_error"
	ErrorCodeToolBlocked         ErrorCode = "tool_blocked"
)

// EventType represents the type of a stream event.
type EventType string

const (
	EventTypeRunQueued         EventType = "run.queued"
	EventTypeRunInProgress     EventType = "run.in_progress"
	EventTypeRunStepCreated    EventType = "run.step.created"
	EventTypeRunStepDelta      EventType = "run.step.delta"
	EventTypeRunRequiresAction EventType = "run.requires_action"
	EventTypeRunStepCompleted  EventType = "run.step.completed"
	EventTypeMessageCreated    EventType = "message.created"
	EventTypeRunCompleted      EventType = "run.completed"
	EventTypeRunFailed         EventType = "run.failed"
	EventTypeRunCancelled      EventType = "run.cancelled"
	EventTypeRunExpired        EventType = "run.expired"
)

// IsTerminal reports whether the event closes a run's stream.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventTypeRunCompleted, EventTypeRunFailed, EventTypeRunCancelled, EventTypeRunExpired:
		return true
	}
	return false
}

// RunEventType returns the lifecycle event published when a run enters status s.
func RunEventType(s RunStatus) EventType {
	switch s {
	case RunStatusQueued:
		return EventTypeRunQueued
	case RunStatusInProgress:
		return EventTypeRunInProgress
	case RunStatusRequiresAction:
		return EventTypeRunRequiresAction
	case RunStatusCompleted:
		return EventTypeRunCompleted
	case RunStatusCancelled:
		return EventTypeRunCancelled
	case RunStatusExpired:
		return EventTypeRunExpired
	default:
		return EventTypeRunFailed
	}
}
