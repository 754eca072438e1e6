package state

import (
	"fmt"
	"time"
)

// Audit event kinds.
const (
	EventStatusChange = "status_change"
	EventProgress     = "progress"
	EventMerge        = "merge"
	EventPR           = "pr"
	EventStop         = "stop"
	EventRecover      = "recover"
	EventError        = "error"
)

// TaskEvent is an audit log entry for a task lifecycle change.
type TaskEvent struct {
	ID        int64
	TaskID    string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// AppendEvent records an audit event for a task.
func (db *DB) AppendEvent(taskID, kind, detail string) error {
	_, err := db.Exec(`
		INSERT INTO task_events (task_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, kind, detail, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// ListEvents returns a task's audit events, oldest first.
// A limit of zero returns all events.
func (db *DB) ListEvents(taskID string, limit int) ([]TaskEvent, error) {
	query := `
		SELECT id, task_id, kind, detail, created_at
		FROM task_events WHERE task_id = ? ORDER BY id ASC
	`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var ev TaskEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Kind, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
