// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// DiffOperations defines the interface for git diff and status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// ChangedFilesRelative returns files changed on a branch relative to another.
	// Uses the triple-dot diff (relativeTo...branch).
	ChangedFilesRelative(branch, relativeTo string) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// DiffNumstatRelative returns the raw numstat output for a branch relative
	// to another (relativeTo...branch). Parse with ParseNumstat.
	DiffNumstatRelative(branch, relativeTo string) (string, error)
	// RevListCount returns the number of commits reachable from `to` but not
	// from `from` (git rev-list --count from..to).
	RevListCount(from, to string) (int, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// AddAll stages all changes in the working tree.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
}

// MergeOperations defines the interface for git merge and rebase operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
	MergeNoFFMessage(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
	// Rebase rebases the current branch onto the specified base.
	Rebase(base string) error
	// RebaseAbort aborts an in-progress rebase.
	RebaseAbort() error
	// CheckoutOurs checks out the "ours" version of a conflicted file.
	CheckoutOurs(path string) error
	// CheckoutTheirs checks out the "theirs" version of a conflicted file.
	CheckoutTheirs(path string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at the given path for an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddNewBranch creates a worktree with a new branch cut from the
	// given base (git worktree add <path> -b <branch> <base>).
	WorktreeAddNewBranch(path, branch, base string) error
	// WorktreeRemove removes the worktree, optionally with force.
	WorktreeRemove(path string, force bool) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries with --expire now.
	WorktreePruneExpireNow() error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// HasRemote returns true if the repository has at least one remote.
	HasRemote() (bool, error)
	// Push pushes the branch to origin, setting the upstream.
	Push(branch string) error
	// PullFFOnly pulls from remote with fast-forward only.
	// Returns nil if no remote is configured.
	PullFFOnly() error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	RemoteOperations
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
}
