package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusBacklog indicates the task is waiting to be started.
	TaskStatusBacklog TaskStatus = "backlog"
	// TaskStatusInProgress indicates an agent is building the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusAIReview indicates the agent is reviewing its own changes.
	TaskStatusAIReview TaskStatus = "ai_review"
	// TaskStatusQAFixing indicates the agent is fixing issues found in review.
	TaskStatusQAFixing TaskStatus = "qa_fixing"
	// TaskStatusHumanReview indicates the task is waiting on a human decision.
	TaskStatusHumanReview TaskStatus = "human_review"
	// TaskStatusPRCreated indicates a pull request has been opened for the task.
	TaskStatusPRCreated TaskStatus = "pr_created"
	// TaskStatusDone indicates the task completed and its changes landed.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusDeletedPartial indicates delete removed the worktree but the
	// record update failed. Requires manual reconciliation; never set by any
	// other path.
	TaskStatusDeletedPartial TaskStatus = "deleted_partial"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusInProgress, TaskStatusAIReview,
		TaskStatusQAFixing, TaskStatusHumanReview, TaskStatusPRCreated,
		TaskStatusDone, TaskStatusDeletedPartial:
		return true
	default:
		return false
	}
}

// Active returns true if the status implies a live agent process may be
// attached to the task.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusInProgress, TaskStatusAIReview, TaskStatusQAFixing:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusDeletedPartial
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. deleted_partial is reachable only through the delete failure path,
// which writes it directly rather than transitioning.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if !next.Valid() || next == TaskStatusDeletedPartial {
		return false
	}
	switch s {
	case TaskStatusBacklog:
		return next == TaskStatusInProgress
	case TaskStatusInProgress:
		switch next {
		case TaskStatusAIReview, TaskStatusQAFixing, TaskStatusHumanReview,
			TaskStatusDone, TaskStatusBacklog:
			return true
		}
	case TaskStatusAIReview:
		switch next {
		case TaskStatusQAFixing, TaskStatusHumanReview, TaskStatusDone, TaskStatusBacklog:
			return true
		}
	case TaskStatusQAFixing:
		switch next {
		case TaskStatusAIReview, TaskStatusHumanReview, TaskStatusDone, TaskStatusBacklog:
			return true
		}
	case TaskStatusHumanReview:
		switch next {
		case TaskStatusPRCreated, TaskStatusDone, TaskStatusInProgress, TaskStatusBacklog:
			return true
		}
	case TaskStatusPRCreated:
		return next == TaskStatusDone
	}
	return false
}

// SubtaskStatus represents the state of a single subtask.
type SubtaskStatus string

const (
	// SubtaskPending indicates the subtask has not started.
	SubtaskPending SubtaskStatus = "pending"
	// SubtaskInProgress indicates the subtask is being worked on.
	SubtaskInProgress SubtaskStatus = "in_progress"
	// SubtaskCompleted indicates the subtask finished successfully.
	SubtaskCompleted SubtaskStatus = "completed"
	// SubtaskFailed indicates the subtask failed.
	SubtaskFailed SubtaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskPending, SubtaskInProgress, SubtaskCompleted, SubtaskFailed:
		return true
	default:
		return false
	}
}

// Subtask is one ordered step of a task. Ordering is significant: agents
// execute subtasks in ordinal order.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// TaskID is the owning task.
	TaskID string `json:"task_id"`
	// Ordinal is the execution position within the task (0-based).
	Ordinal int `json:"ordinal"`
	// Title is the short description of the subtask.
	Title string `json:"title"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
}

// Metadata keys recorded on tasks by the pipeline.
const (
	// MetaPRURL holds the pull request URL once one is opened.
	MetaPRURL = "pr_url"
	// MetaStagedAt records when changes were staged into the project tree.
	MetaStagedAt = "staged_at"
	// MetaForcedStop records that a stop escalated to a kill.
	MetaForcedStop = "forced_stop"
	// MetaRecoveredAt records a startup reset of an interrupted task.
	MetaRecoveredAt = "recovered_at"
	// MetaStuckSince records when a stall was first observed. Advisory only,
	// cleared on recover.
	MetaStuckSince = "stuck_since"
)

// Task represents a unit of work driven through the build pipeline.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// SpecID references the unit-of-work definition, owned externally.
	SpecID string `json:"spec_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Subtasks are the ordered steps of the task.
	Subtasks []Subtask `json:"subtasks,omitempty"`
	// Progress is the latest execution progress snapshot.
	Progress *ExecutionProgress `json:"progress,omitempty"`
	// Metadata holds opaque key/value pairs (PR URL, staged timestamp, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
	// PID is the agent process ID while one is attached, 0 otherwise.
	PID int `json:"pid,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta returns the metadata value for key, or "" when unset.
func (t *Task) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (t *Task) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
