package state

import (
	"io"

	"github.com/drydocklabs/drydock/pkg/models"
)

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ListTasks(status models.TaskStatus) ([]*models.Task, error)
	ListActiveTasks() ([]*models.Task, error)
	SetTaskStatus(id string, status models.TaskStatus) error
	UpdateTaskPID(id string, pid int) error
	SaveProgress(id string, p *models.ExecutionProgress) error
	SetTaskMeta(id, key, value string) error
	DeleteTask(id string) error
	GetSubtasks(taskID string) ([]models.Subtask, error)
	UpdateSubtaskStatus(subtaskID string, status models.SubtaskStatus) error
}

// WorktreeStore handles worktree record persistence.
type WorktreeStore interface {
	SaveWorktree(wt *models.Worktree) error
	GetWorktree(taskID string) (*models.Worktree, error)
	DeleteWorktree(taskID string) error
	ListWorktrees() ([]*models.Worktree, error)
}

// EventStore handles the task audit log.
type EventStore interface {
	AppendEvent(taskID, kind, detail string) error
	ListEvents(taskID string, limit int) ([]TaskEvent, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for state persistence.
// Consumers depend on this rather than on the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	WorktreeStore
	EventStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ WorktreeStore = (*DB)(nil)
	_ EventStore    = (*DB)(nil)
)
