package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry is a worktree known to git, parsed from porcelain list output.
type Entry struct {
	Path   string // Absolute path to the worktree directory
	Branch string // Branch checked out in the worktree
	TaskID string // Task ID extracted from the branch name, if in our namespace
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]Entry, error) {
	var entries []Entry
	var current *Entry

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				entries = append(entries, *current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &Entry{
				Path: strings.TrimPrefix(line, "worktree "),
			}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			branchRef := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branchRef, "refs/heads/")
			current.TaskID = TaskIDFromBranch(current.Branch)
		}
	}

	// Don't forget the last worktree if output doesn't end with blank line
	if current != nil {
		entries = append(entries, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}

	return entries, nil
}

// List returns all worktrees git knows about for this repository.
func (s *Store) List() ([]Entry, error) {
	output, err := s.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// ListOrphans returns task worktrees with no live task behind them.
// An orphan is a worktree whose branch is in our namespace but whose
// task ID is absent from activeTaskIDs. The main checkout is never an orphan.
func (s *Store) ListOrphans(activeTaskIDs []string) ([]Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool)
	for _, id := range activeTaskIDs {
		activeSet[id] = true
	}

	var orphans []Entry
	for _, e := range entries {
		if e.TaskID == "" {
			continue
		}
		if e.Path == s.repoPath {
			continue
		}
		if activeSet[e.TaskID] {
			continue
		}
		orphans = append(orphans, e)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned task worktrees and returns the count
// removed. If a verbose callback is provided it is called per removed path.
func (s *Store) CleanupOrphans(activeTaskIDs []string, verbose func(path string)) (int, error) {
	orphans, err := s.ListOrphans(activeTaskIDs)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range orphans {
		_ = s.git.WorktreeUnlock(e.Path) // Ignore errors, it may not be locked

		if err := s.git.WorktreeRemove(e.Path, true); err != nil {
			// Git refused, remove the directory directly
			if err := os.RemoveAll(e.Path); err != nil {
				continue // Skip if we can't remove it
			}
		}
		_ = s.git.DeleteBranch(e.Branch)
		_ = s.records.DeleteWorktree(e.TaskID)

		if verbose != nil {
			verbose(e.Path)
		}
		removed++
	}

	// Final prune to clean up any dangling references
	_ = s.git.WorktreePruneExpireNow() // Ignore errors, worktrees already removed

	return removed, nil
}

// RemoveUntracked deletes directories under the base dir that git has lost
// track of, e.g. after a crash between worktree add and record write.
// Returns the removed paths.
func (s *Store) RemoveUntracked() ([]string, error) {
	if err := s.git.WorktreePruneExpireNow(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}

	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	knownPaths := make(map[string]bool)
	for _, e := range entries {
		knownPaths[e.Path] = true
	}

	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree base directory: %w", err)
	}

	var removed []string
	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(s.baseDir, entry.Name())
		if knownPaths[path] {
			// Git tracks this worktree, it may be in active use
			continue
		}

		_ = s.git.WorktreeUnlock(path) // Ignore errors, it may not be locked
		if err := s.git.WorktreeRemove(path, true); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue // Skip if we can't remove it
			}
		}
		removed = append(removed, path)
	}

	return removed, nil
}

// StartupCleanup performs orphan detection and cleanup at startup.
// Call with the IDs of tasks that still own their worktrees so crashed
// runs' leftovers are reclaimed.
func (s *Store) StartupCleanup(activeTaskIDs []string) (int, error) {
	return s.CleanupOrphans(activeTaskIDs, nil)
}
