package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// CreateTask inserts a new task and its subtasks.
// The task's CreatedAt and UpdatedAt are set if zero.
func (db *DB) CreateTask(task *models.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.Status == "" {
		task.Status = models.TaskStatusBacklog
	}

	metadata, err := marshalMetadata(task.Metadata)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (id, spec_id, title, status, pid, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.SpecID, task.Title, string(task.Status), task.PID, metadata,
			formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		for _, st := range task.Subtasks {
			_, err := tx.Exec(`
				INSERT INTO subtasks (id, task_id, ordinal, title, status)
				VALUES (?, ?, ?, ?, ?)
			`, st.ID, task.ID, st.Ordinal, st.Title, string(st.Status))
			if err != nil {
				return fmt.Errorf("insert subtask %s: %w", st.ID, err)
			}
		}

		return nil
	})
}

// GetTask retrieves a task by ID, including its subtasks.
// Returns ErrTaskNotFound when no task has the given ID.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, spec_id, title, status, phase, overall_progress, progress_message,
		       current_subtask, last_event_at, pid, metadata, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	subtasks, err := db.GetSubtasks(id)
	if err != nil {
		return nil, err
	}
	task.Subtasks = subtasks

	return task, nil
}

// ListTasks returns tasks, optionally filtered by status.
// An empty status returns all tasks, ordered by creation time.
func (db *DB) ListTasks(status models.TaskStatus) ([]*models.Task, error) {
	query := `
		SELECT id, spec_id, title, status, phase, overall_progress, progress_message,
		       current_subtask, last_event_at, pid, metadata, created_at, updated_at
		FROM tasks
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, task := range tasks {
		subtasks, err := db.GetSubtasks(task.ID)
		if err != nil {
			return nil, err
		}
		task.Subtasks = subtasks
	}

	return tasks, nil
}

// ListActiveTasks returns tasks whose status counts as actively running.
func (db *DB) ListActiveTasks() ([]*models.Task, error) {
	all, err := db.ListTasks("")
	if err != nil {
		return nil, err
	}
	var active []*models.Task
	for _, t := range all {
		if t.Status.Active() {
			active = append(active, t)
		}
	}
	return active, nil
}

// SetTaskStatus updates a task's status.
func (db *DB) SetTaskStatus(id string, status models.TaskStatus) error {
	result, err := db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireRow(result)
}

// UpdateTaskPID records the OS process ID of the task's running agent.
// A pid of zero clears the record.
func (db *DB) UpdateTaskPID(id string, pid int) error {
	result, err := db.Exec(`
		UPDATE tasks SET pid = ?, updated_at = ? WHERE id = ?
	`, pid, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update task pid: %w", err)
	}
	return requireRow(result)
}

// SaveProgress persists a progress snapshot for the task.
func (db *DB) SaveProgress(id string, p *models.ExecutionProgress) error {
	if p == nil {
		return nil
	}
	result, err := db.Exec(`
		UPDATE tasks
		SET phase = ?, overall_progress = ?, progress_message = ?,
		    current_subtask = ?, last_event_at = ?, updated_at = ?
		WHERE id = ?
	`, string(p.Phase), p.OverallProgress, p.Message, p.CurrentSubtask,
		formatTime(p.LastEventAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return requireRow(result)
}

// SetTaskMeta merges a key/value pair into the task's metadata.
func (db *DB) SetTaskMeta(id, key, value string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var raw sql.NullString
		row := tx.QueryRow("SELECT metadata FROM tasks WHERE id = ?", id)
		if err := row.Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return ErrTaskNotFound
			}
			return fmt.Errorf("read task metadata: %w", err)
		}

		meta := make(map[string]string)
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
				return fmt.Errorf("parse task metadata: %w", err)
			}
		}
		meta[key] = value

		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode task metadata: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE tasks SET metadata = ?, updated_at = ? WHERE id = ?
		`, string(encoded), formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("update task metadata: %w", err)
		}
		return nil
	})
}

// DeleteTask removes a task and its subtasks and worktree record.
func (db *DB) DeleteTask(id string) error {
	result, err := db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(result)
}

// GetSubtasks returns a task's subtasks ordered by ordinal.
func (db *DB) GetSubtasks(taskID string) ([]models.Subtask, error) {
	rows, err := db.Query(`
		SELECT id, task_id, ordinal, title, status
		FROM subtasks WHERE task_id = ? ORDER BY ordinal ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []models.Subtask
	for rows.Next() {
		var st models.Subtask
		var status string
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Ordinal, &st.Title, &status); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		st.Status = models.SubtaskStatus(status)
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

// UpdateSubtaskStatus updates a single subtask's status.
func (db *DB) UpdateSubtaskStatus(subtaskID string, status models.SubtaskStatus) error {
	result, err := db.Exec(`
		UPDATE subtasks SET status = ? WHERE id = ?
	`, string(status), subtaskID)
	if err != nil {
		return fmt.Errorf("update subtask status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("subtask %s: %w", subtaskID, ErrTaskNotFound)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var status string
	var specID, phase, progressMessage, currentSubtask, metadata sql.NullString
	var lastEventAt sql.NullString
	var overallProgress int
	var createdAt, updatedAt string

	err := row.Scan(&task.ID, &specID, &task.Title, &status, &phase, &overallProgress,
		&progressMessage, &currentSubtask, &lastEventAt, &task.PID, &metadata,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = models.TaskStatus(status)
	task.SpecID = specID.String

	if phase.Valid && phase.String != "" {
		p := &models.ExecutionProgress{
			Phase:           models.Phase(phase.String),
			OverallProgress: overallProgress,
			Message:         progressMessage.String,
			CurrentSubtask:  currentSubtask.String,
		}
		if t := parseNullableTime(lastEventAt); t != nil {
			p.LastEventAt = *t
		}
		task.Progress = p
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("parse task metadata: %w", err)
		}
	}

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &task, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode task metadata: %w", err)
	}
	return string(encoded), nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}
