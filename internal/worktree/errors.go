package worktree

import "errors"

var (
	// ErrWorktreeBusy indicates another operation is already in flight for
	// the task. Callers should retry or surface "in progress".
	ErrWorktreeBusy = errors.New("worktree busy")

	// ErrWorktreeNotFound indicates the task has no recorded worktree.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrBranchNotFound indicates a named branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrPathConflict indicates the worktree path is occupied by something
	// that is not a registered worktree. Not retried; requires manual cleanup.
	ErrPathConflict = errors.New("worktree path occupied by unrelated files")
)
