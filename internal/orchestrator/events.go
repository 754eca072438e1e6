package orchestrator

import (
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates an agent was attached to a task.
	EventTaskStarted EventType = "task_started"
	// EventProgress provides periodic updates on agent execution.
	EventProgress EventType = "progress"
	// EventTaskStuck indicates the stall detector flagged a running task.
	EventTaskStuck EventType = "task_stuck"
	// EventTaskStopped indicates a task's agent was stopped on request.
	EventTaskStopped EventType = "task_stopped"
	// EventTaskCompleted indicates a task's agent finished successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task's agent failed, or an operation left
	// the task in an inconsistent state.
	EventTaskFailed EventType = "task_failed"
	// EventMergeCompleted indicates a task's changes landed in the base
	// branch or the project tree.
	EventMergeCompleted EventType = "merge_completed"
	// EventPRCreated indicates a pull request was opened for a task.
	EventPRCreated EventType = "pr_created"
)

// OrchestratorEvent represents an event emitted by the state machine.
// These events feed CLI output and automation observers.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// TaskTitle is the title of the related task, if known.
	TaskTitle string
	// Phase is the pipeline phase at the time of the event, if known.
	Phase models.Phase
	// Progress is the 0-100 overall progress at the time of the event.
	Progress int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
