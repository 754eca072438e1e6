// Package merge computes merge previews for task worktrees and performs
// the merge back into the base branch. A preview separates git-level
// divergence (the base branch moved on while the task ran) from content
// classification of the task's own changes; the two can co-occur.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/drydocklabs/drydock/internal/git"
	"github.com/drydocklabs/drydock/pkg/models"
)

// Severity ranks how hard a classified conflict is to reconcile.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Disposition says who can land a classified change.
type Disposition string

const (
	// DispositionAuto marks changes a three-way merge handles mechanically.
	DispositionAuto Disposition = "auto"
	// DispositionAI marks changes needing semantic reconciliation an agent
	// can perform.
	DispositionAI Disposition = "ai"
	// DispositionHuman marks changes that need human review before landing.
	DispositionHuman Disposition = "human"
)

// Conflict is one file's content-conflict classification.
type Conflict struct {
	Path        string
	Severity    Severity
	Disposition Disposition
	Reason      string
}

// Summary aggregates a preview's classification counts.
type Summary struct {
	TotalFiles    int
	AutoMergeable int
	AIResolved    int
	HumanRequired int
}

// GitConflicts describes divergence from the base branch tip.
type GitConflicts struct {
	HasConflicts     bool
	BaseBranch       string
	CommitsBehind    int
	ConflictingFiles []string
}

// Preview is the computed merge preview for a worktree.
// Transient: recomputed on demand, never persisted.
type Preview struct {
	TaskID       string
	Branch       string
	BaseBranch   string
	WorktreePath string
	Files        []string
	Conflicts    []Conflict
	Summary      Summary
	GitConflicts *GitConflicts
}

// Result reports the outcome of a merge or staged-apply attempt.
type Result struct {
	Success       bool
	Message       string
	ConflictFiles []string
	UsedRebase    bool
}

// Resolution selects how Apply treats merge conflicts.
type Resolution string

const (
	// ResolutionAbort rolls the merge back and reports conflict files.
	ResolutionAbort Resolution = "abort"
	// ResolutionOurs resolves conflicts preferring the base branch side.
	ResolutionOurs Resolution = "ours"
	// ResolutionTheirs resolves conflicts preferring the task branch side.
	ResolutionTheirs Resolution = "theirs"
)

// Engine performs merge previews and merges for task worktrees.
type Engine struct {
	repoPath  string
	git       git.Runner
	runnerFor func(path string) git.Runner
}

// NewEngine creates a merge engine for the repository at repoPath.
func NewEngine(repoPath string) *Engine {
	return NewEngineWithRunner(repoPath, git.NewRunner(repoPath), func(path string) git.Runner {
		return git.NewRunner(path)
	})
}

// NewEngineWithRunner creates an engine with custom runners (for testing).
// runnerFor builds a runner scoped to a worktree checkout.
func NewEngineWithRunner(repoPath string, runner git.Runner, runnerFor func(path string) git.Runner) *Engine {
	return &Engine{
		repoPath:  repoPath,
		git:       runner,
		runnerFor: runnerFor,
	}
}

// Preview computes the merge preview for a worktree: the git-level
// divergence block plus a per-file classification of the branch's own
// changes. Deterministic for identical branch and base state.
func (e *Engine) Preview(wt *models.Worktree) (*Preview, error) {
	// Files the base branch changed since the worktree was cut
	baseFiles, err := e.git.ChangedFilesRelative(wt.BaseBranch, wt.Branch)
	if err != nil {
		return nil, fmt.Errorf("base branch changes: %w", err)
	}

	// Commits on the base the branch has not seen
	commitsBehind, err := e.git.RevListCount(wt.Branch, wt.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("count commits behind: %w", err)
	}

	// The branch's own changes, with churn per file
	numstat, err := e.git.DiffNumstatRelative(wt.Branch, wt.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("branch diff stats: %w", err)
	}
	stats := git.ParseNumstat(numstat)
	sort.Slice(stats, func(i, j int) bool { return stats[i].Path < stats[j].Path })

	// Divergence conflicts: files both sides touched
	baseSet := make(map[string]bool, len(baseFiles))
	for _, f := range baseFiles {
		baseSet[f] = true
	}
	var conflicting []string
	for _, st := range stats {
		if baseSet[st.Path] {
			conflicting = append(conflicting, st.Path)
		}
	}
	sort.Strings(conflicting)

	gitBlock := &GitConflicts{
		HasConflicts:     len(conflicting) > 0,
		BaseBranch:       wt.BaseBranch,
		CommitsBehind:    commitsBehind,
		ConflictingFiles: conflicting,
	}

	// Content classification of the branch's changes. A file already in
	// the divergence block is reported only there: that conflict must
	// resolve first.
	conflictingSet := make(map[string]bool, len(conflicting))
	for _, f := range conflicting {
		conflictingSet[f] = true
	}

	preview := &Preview{
		TaskID:       wt.TaskID,
		Branch:       wt.Branch,
		BaseBranch:   wt.BaseBranch,
		WorktreePath: wt.Path,
		Summary:      Summary{TotalFiles: len(stats)},
		GitConflicts: gitBlock,
	}
	for _, st := range stats {
		preview.Files = append(preview.Files, st.Path)
		if conflictingSet[st.Path] {
			continue
		}
		c := classifyChange(st)
		switch c.Disposition {
		case DispositionAuto:
			preview.Summary.AutoMergeable++
		case DispositionAI:
			preview.Summary.AIResolved++
			preview.Conflicts = append(preview.Conflicts, c)
		case DispositionHuman:
			preview.Summary.HumanRequired++
			preview.Conflicts = append(preview.Conflicts, c)
		}
	}

	return preview, nil
}

// Apply merges the previewed branch into its base branch. All-or-nothing:
// on conflict the merge is aborted (unless the resolution picks a side),
// then retried once after rebasing the task branch onto the base tip.
// Retrying after fixing a subset of conflicts requires a fresh preview.
func (e *Engine) Apply(ctx context.Context, preview *Preview, res Resolution) (*Result, error) {
	if preview == nil {
		return nil, fmt.Errorf("nil preview")
	}
	branch, base := preview.Branch, preview.BaseBranch
	if res == "" {
		res = ResolutionAbort
	}

	if err := e.git.CheckoutBranch(base); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", base, err)
	}
	if hasRemote, _ := e.git.HasRemote(); hasRemote {
		// A stale local tip is tolerable; the merge runs against what we have
		_ = e.git.PullFFOnly()
	}

	cp, err := e.createCheckpoint(preview.TaskID)
	if err != nil {
		return nil, err
	}
	defer cp.release()

	msg := fmt.Sprintf("Merge branch '%s' into %s", branch, base)

	mergeErr := git.WithRetry(ctx, func() error {
		return e.git.MergeNoFFMessage(branch, msg)
	})
	if mergeErr == nil {
		return &Result{Success: true, Message: fmt.Sprintf("merged %s into %s", branch, base)}, nil
	}

	// Capture conflicted paths before any abort clears the index
	conflicted, _ := e.git.ConflictedFiles()
	hasConflicts, _ := e.git.HasConflicts()
	if !hasConflicts && len(conflicted) == 0 {
		cp.rollback()
		return nil, fmt.Errorf("merge %s into %s: %w", branch, base, mergeErr)
	}

	if res == ResolutionOurs || res == ResolutionTheirs {
		if err := e.resolveAll(conflicted, res); err != nil {
			_ = e.git.MergeAbort()
			cp.rollback()
			return &Result{Success: false, Message: err.Error(), ConflictFiles: conflicted}, nil
		}
		if err := e.git.Commit(msg); err != nil {
			_ = e.git.MergeAbort()
			cp.rollback()
			return nil, fmt.Errorf("commit resolved merge: %w", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("merged %s into %s, %d conflicts resolved as %s", branch, base, len(conflicted), res),
		}, nil
	}

	if err := e.git.MergeAbort(); err != nil {
		return nil, fmt.Errorf("abort conflicted merge: %w", err)
	}

	// Rebase the task branch onto the base tip, then retry once. The rebase
	// runs inside the worktree since that is where the branch is checked out.
	if preview.WorktreePath != "" {
		wtGit := e.runnerFor(preview.WorktreePath)
		if rebaseErr := wtGit.Rebase(base); rebaseErr != nil {
			_ = wtGit.RebaseAbort()
			return &Result{
				Success:       false,
				Message:       fmt.Sprintf("merge conflicts in %d files", len(conflicted)),
				ConflictFiles: conflicted,
			}, nil
		}

		retryErr := git.WithRetry(ctx, func() error {
			return e.git.MergeNoFFMessage(branch, msg)
		})
		if retryErr == nil {
			return &Result{
				Success:    true,
				Message:    fmt.Sprintf("merged %s into %s after rebase", branch, base),
				UsedRebase: true,
			}, nil
		}
		if after, _ := e.git.ConflictedFiles(); len(after) > 0 {
			conflicted = after
		}
		_ = e.git.MergeAbort()
	}

	return &Result{
		Success:       false,
		Message:       fmt.Sprintf("merge conflicts in %d files", len(conflicted)),
		ConflictFiles: conflicted,
	}, nil
}

// MergeBack previews and merges a worktree in one step, rolling back on
// conflict. Used by the worktree store's merge path.
func (e *Engine) MergeBack(ctx context.Context, wt *models.Worktree) (*Result, error) {
	preview, err := e.Preview(wt)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, preview, ResolutionAbort)
}

// StageApply commits whatever is already sitting in the main project tree.
// Used for tasks whose changes were made in place, with no separate worktree.
func (e *Engine) StageApply(ctx context.Context, message string) (*Result, error) {
	changed, err := e.git.HasChanges()
	if err != nil {
		return nil, fmt.Errorf("check working tree: %w", err)
	}
	if !changed {
		return &Result{Success: true, Message: "no changes to stage"}, nil
	}

	if err := e.git.AddAll(); err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}
	err = git.WithRetry(ctx, func() error {
		return e.git.Commit(message)
	})
	if err != nil {
		return nil, fmt.Errorf("commit staged changes: %w", err)
	}
	return &Result{Success: true, Message: "staged changes committed"}, nil
}

// resolveAll resolves every conflicted file toward one side and stages it.
func (e *Engine) resolveAll(paths []string, res Resolution) error {
	for _, path := range paths {
		var err error
		if res == ResolutionOurs {
			err = e.git.CheckoutOurs(path)
		} else {
			err = e.git.CheckoutTheirs(path)
		}
		if err != nil {
			return fmt.Errorf("resolve %s as %s: %w", path, res, err)
		}
		if err := e.git.Add(path); err != nil {
			return fmt.Errorf("stage resolved %s: %w", path, err)
		}
	}
	return nil
}
