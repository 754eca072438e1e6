// Package worktree manages the mapping of task to isolated git workspace:
// one branch and checkout directory per task, created off the task's base
// branch and reclaimed on discard or merge.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/drydocklabs/drydock/internal/git"
	"github.com/drydocklabs/drydock/internal/merge"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/pkg/models"
)

// BranchPrefix is the namespace for task branches.
const BranchPrefix = "drydock/"

// BranchName returns the branch used for a task's worktree.
func BranchName(taskID string) string {
	return BranchPrefix + taskID
}

// TaskIDFromBranch extracts the task ID from a task branch name.
// Returns empty string for branches outside the namespace.
func TaskIDFromBranch(branch string) string {
	if !strings.HasPrefix(branch, BranchPrefix) {
		return ""
	}
	return strings.TrimPrefix(branch, BranchPrefix)
}

// Records is the persistence surface the store needs: worktree rows plus
// the status write used when a discard resets a task.
type Records interface {
	SaveWorktree(wt *models.Worktree) error
	GetWorktree(taskID string) (*models.Worktree, error)
	DeleteWorktree(taskID string) error
	ListWorktrees() ([]*models.Worktree, error)
	SetTaskStatus(id string, status models.TaskStatus) error
	AppendEvent(taskID, kind, detail string) error
}

// Merger performs the merge-back of a worktree branch into its base.
type Merger interface {
	MergeBack(ctx context.Context, wt *models.Worktree) (*merge.Result, error)
}

// Store owns per-task worktrees. Operations on the same task serialize
// through a per-task mutex; unrelated tasks proceed independently.
type Store struct {
	baseDir  string // Base directory for worktrees (e.g., ~/.drydock/worktrees/<repo>)
	repoPath string // Path to the main git repository
	git      git.Runner
	records  Records
	merger   Merger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a worktree store rooted at baseDir for the repository
// at repoPath. baseDir defaults to ~/.drydock/worktrees/<repo name>.
func NewStore(baseDir, repoPath string, records Records, merger Merger) (*Store, error) {
	return NewStoreWithRunner(baseDir, repoPath, records, merger, git.NewRunner(repoPath))
}

// NewStoreWithRunner creates a store with a custom git runner (for testing).
func NewStoreWithRunner(baseDir, repoPath string, records Records, merger Merger, runner git.Runner) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".drydock", "worktrees", filepath.Base(repoPath))
	}

	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Store{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		records:  records,
		merger:   merger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// BaseDir returns the base directory where worktrees are created.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RepoPath returns the path to the main git repository.
func (s *Store) RepoPath() string {
	return s.repoPath
}

// taskLock returns the mutex serializing operations for a single task.
func (s *Store) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[taskID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[taskID] = lk
	}
	return lk
}

// Ensure returns the task's worktree, creating it off baseBranch when none
// exists. Idempotent: a second call returns the existing worktree's current
// status without recreating. Concurrent calls for the same task serialize;
// the second caller waits and sees the first caller's worktree.
func (s *Store) Ensure(ctx context.Context, taskID, baseBranch string) (*models.Worktree, error) {
	lk := s.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	existing, err := s.records.GetWorktree(taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, statErr := os.Stat(existing.Path); statErr == nil {
			return s.refreshStats(existing)
		}
		// Checkout directory is gone but the branch survives. Re-attach it
		// at the recorded path instead of cutting a fresh branch. The prune
		// clears git's registration of the missing checkout first.
		_ = s.git.WorktreePruneExpireNow()
		err := git.WithRetry(ctx, func() error {
			return s.git.WorktreeAdd(existing.Path, existing.Branch)
		})
		if err != nil {
			return nil, fmt.Errorf("reattach worktree for task %s: %w", taskID, err)
		}
		return s.refreshStats(existing)
	}

	baseExists, err := s.git.BranchExists(baseBranch)
	if err != nil {
		return nil, fmt.Errorf("check base branch: %w", err)
	}
	if !baseExists {
		return nil, fmt.Errorf("base branch %q: %w", baseBranch, ErrBranchNotFound)
	}

	branch := BranchName(taskID)
	path := filepath.Join(s.baseDir, taskID)

	if _, statErr := os.Stat(path); statErr == nil {
		registered, regErr := s.isRegisteredWorktree(path)
		if regErr != nil {
			return nil, regErr
		}
		if !registered {
			return nil, fmt.Errorf("path %s: %w", path, ErrPathConflict)
		}
		// A registered worktree without a record (e.g. lost database).
		// Adopt it rather than failing.
	} else {
		branchExists, err := s.git.BranchExists(branch)
		if err != nil {
			return nil, fmt.Errorf("check task branch: %w", err)
		}
		err = git.WithRetry(ctx, func() error {
			if branchExists {
				return s.git.WorktreeAdd(path, branch)
			}
			return s.git.WorktreeAddNewBranch(path, branch, baseBranch)
		})
		if err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
	}

	wt := &models.Worktree{
		TaskID:     taskID,
		Path:       path,
		Branch:     branch,
		BaseBranch: baseBranch,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.records.SaveWorktree(wt); err != nil {
		return nil, fmt.Errorf("record worktree: %w", err)
	}
	return s.refreshStats(wt)
}

// Status returns the task's worktree with freshly computed diff statistics.
// Stats are recomputed from live branch state on every call, never cached.
func (s *Store) Status(taskID string) (*models.Worktree, error) {
	lk := s.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	wt, err := s.records.GetWorktree(taskID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrWorktreeNotFound)
	}
	return s.refreshStats(wt)
}

// Discard removes a task's worktree and branch. Unless skipStatusChange is
// set, the task is reset to backlog. skipStatusChange exists for callers
// that sequence removal before a different status write (e.g. marking done
// after a staged apply) and must not race the default reset.
func (s *Store) Discard(ctx context.Context, taskID string, skipStatusChange bool) error {
	lk := s.taskLock(taskID)
	if !lk.TryLock() {
		return fmt.Errorf("task %s: %w", taskID, ErrWorktreeBusy)
	}
	defer lk.Unlock()

	wt, err := s.records.GetWorktree(taskID)
	if err != nil {
		return err
	}
	if wt == nil {
		return fmt.Errorf("task %s: %w", taskID, ErrWorktreeNotFound)
	}

	if err := s.removeWorktree(ctx, wt); err != nil {
		return err
	}
	if err := s.records.DeleteWorktree(taskID); err != nil {
		return fmt.Errorf("delete worktree record: %w", err)
	}
	_ = s.records.AppendEvent(taskID, state.EventStatusChange, "worktree discarded: "+wt.Path)

	if !skipStatusChange {
		if err := s.records.SetTaskStatus(taskID, models.TaskStatusBacklog); err != nil {
			return fmt.Errorf("reset task status: %w", err)
		}
	}
	return nil
}

// MergeInto merges the task's worktree branch back into its base branch.
// Conflict detection is the merge engine's job; on success the worktree is
// removed since a merged worktree is not reusable. The caller owns any
// follow-up status transition.
func (s *Store) MergeInto(ctx context.Context, taskID string) (*merge.Result, error) {
	lk := s.taskLock(taskID)
	if !lk.TryLock() {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrWorktreeBusy)
	}
	defer lk.Unlock()

	wt, err := s.records.GetWorktree(taskID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrWorktreeNotFound)
	}

	result, err := s.merger.MergeBack(ctx, wt)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	if err := s.removeWorktree(ctx, wt); err != nil {
		return result, fmt.Errorf("merged but failed to remove worktree: %w", err)
	}
	if err := s.records.DeleteWorktree(taskID); err != nil {
		return result, fmt.Errorf("merged but failed to delete record: %w", err)
	}
	_ = s.records.AppendEvent(taskID, state.EventMerge, fmt.Sprintf("%s into %s", wt.Branch, wt.BaseBranch))
	return result, nil
}

// removeWorktree tears down the checkout and branch for a worktree.
// The directory is removed directly if git refuses.
func (s *Store) removeWorktree(ctx context.Context, wt *models.Worktree) error {
	_ = s.git.WorktreeUnlock(wt.Path) // Ignore errors, it may not be locked

	err := git.WithRetry(ctx, func() error {
		return s.git.WorktreeRemove(wt.Path, true)
	})
	if err != nil {
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", wt.Path, err)
		}
	}

	// The branch is only deletable once the checkout is gone.
	_ = s.git.DeleteBranch(wt.Branch)
	_ = s.git.WorktreePruneExpireNow()
	return nil
}

// refreshStats recomputes commit and diff statistics against the base branch.
func (s *Store) refreshStats(wt *models.Worktree) (*models.Worktree, error) {
	count, err := s.git.RevListCount(wt.BaseBranch, wt.Branch)
	if err != nil {
		return nil, fmt.Errorf("count commits: %w", err)
	}
	wt.CommitCount = count

	out, err := s.git.DiffNumstatRelative(wt.Branch, wt.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("diff stats: %w", err)
	}
	stats := git.ParseNumstat(out)
	wt.FilesChanged = len(stats)
	wt.Additions = 0
	wt.Deletions = 0
	for _, st := range stats {
		wt.Additions += st.Additions
		wt.Deletions += st.Deletions
	}
	return wt, nil
}

// isRegisteredWorktree reports whether path is a worktree git knows about.
func (s *Store) isRegisteredWorktree(path string) (bool, error) {
	output, err := s.git.WorktreeListPorcelain()
	if err != nil {
		return false, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := parseWorktreeList(output)
	if err != nil {
		return false, err
	}
	for _, wt := range worktrees {
		if wt.Path == path {
			return true, nil
		}
	}
	return false, nil
}
