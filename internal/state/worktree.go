package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// SaveWorktree records a worktree for a task, replacing any prior record.
func (db *DB) SaveWorktree(wt *models.Worktree) error {
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO worktrees (task_id, path, branch, base_branch, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			path = excluded.path,
			branch = excluded.branch,
			base_branch = excluded.base_branch
	`, wt.TaskID, wt.Path, wt.Branch, wt.BaseBranch, formatTime(wt.CreatedAt))
	if err != nil {
		return fmt.Errorf("save worktree: %w", err)
	}
	return nil
}

// GetWorktree returns the worktree record for a task, or nil if none exists.
func (db *DB) GetWorktree(taskID string) (*models.Worktree, error) {
	row := db.QueryRow(`
		SELECT task_id, path, branch, base_branch, created_at
		FROM worktrees WHERE task_id = ?
	`, taskID)

	wt, err := scanWorktree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wt, err
}

// DeleteWorktree removes a task's worktree record.
// Deleting a missing record is not an error.
func (db *DB) DeleteWorktree(taskID string) error {
	_, err := db.Exec("DELETE FROM worktrees WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("delete worktree: %w", err)
	}
	return nil
}

// ListWorktrees returns all recorded worktrees ordered by creation time.
func (db *DB) ListWorktrees() ([]*models.Worktree, error) {
	rows, err := db.Query(`
		SELECT task_id, path, branch, base_branch, created_at
		FROM worktrees ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query worktrees: %w", err)
	}
	defer rows.Close()

	var worktrees []*models.Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		worktrees = append(worktrees, wt)
	}
	return worktrees, rows.Err()
}

func scanWorktree(row rowScanner) (*models.Worktree, error) {
	var wt models.Worktree
	var createdAt string
	err := row.Scan(&wt.TaskID, &wt.Path, &wt.Branch, &wt.BaseBranch, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan worktree: %w", err)
	}
	if wt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &wt, nil
}
