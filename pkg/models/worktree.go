package models

import "time"

// Worktree represents an isolated git workspace owned by a single task.
// Path, Branch and BaseBranch are fixed at creation; the diff statistics are
// recomputed from live git state on every status query.
type Worktree struct {
	// TaskID is the owning task. At most one worktree exists per task.
	TaskID string `json:"task_id"`
	// Path is the exclusive filesystem location of the checkout.
	Path string `json:"path"`
	// Branch is the task branch the worktree has checked out.
	Branch string `json:"branch"`
	// BaseBranch is the branch the task forked from and merges back into.
	BaseBranch string `json:"base_branch"`
	// CommitCount is the number of commits on Branch ahead of BaseBranch.
	CommitCount int `json:"commit_count"`
	// FilesChanged, Additions and Deletions summarize the diff against BaseBranch.
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"created_at"`
}
