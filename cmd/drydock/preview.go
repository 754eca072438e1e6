package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/merge"
)

var previewCmd = &cobra.Command{
	Use:   "preview <task-id>",
	Short: "Preview a task's merge back into the base branch",
	Long: `Compute what merging a task's branch back would do, without touching
anything.

The preview shows two things. First, divergence: commits the base branch
gained since the worktree was cut, and files both sides touched, which
must resolve before anything else. Second, a per-file classification of
the branch's own changes: mechanically mergeable, resolvable by an
agent (lock files, generated artifacts), or needing human review.

The preview is recomputed from git on every run and never stored.

Examples:
  drydock preview 4f1c9a22`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	taskID, err := a.resolveTaskID(args[0])
	if err != nil {
		return err
	}
	task, err := a.db.GetTask(taskID)
	if err != nil {
		return err
	}

	wt, err := a.store.Status(taskID)
	if err != nil {
		return fmt.Errorf("task %s has no worktree to preview: %w", shortID(taskID), err)
	}

	p, err := a.engine.Preview(wt)
	if err != nil {
		return fmt.Errorf("compute merge preview: %w", err)
	}

	fmt.Printf("%s %q (%s)\n", color.New(color.Bold).Sprint("Merge preview for"), task.Title, shortID(taskID))
	fmt.Printf("  %s → %s\n", p.Branch, p.BaseBranch)
	fmt.Printf("  Worktree: %s\n\n", p.WorktreePath)

	if p.Summary.TotalFiles == 0 {
		fmt.Println("The branch has no changes against the base branch.")
		return nil
	}

	if gc := p.GitConflicts; gc != nil && gc.HasConflicts {
		printStatus("⚠", fmt.Sprintf("base branch %s moved: %d commit(s) ahead, both sides touched %d file(s):",
			gc.BaseBranch, gc.CommitsBehind, len(gc.ConflictingFiles)), color.FgYellow)
		for _, f := range gc.ConflictingFiles {
			fmt.Printf("    %s\n", f)
		}
		fmt.Println()
	} else if gc != nil && gc.CommitsBehind > 0 {
		fmt.Printf("Base branch %s is %d commit(s) ahead; no shared files touched.\n\n", gc.BaseBranch, gc.CommitsBehind)
	}

	if len(p.Conflicts) > 0 {
		fmt.Println("Changes needing attention:")
		for _, c := range p.Conflicts {
			fmt.Printf("  %s %-9s %-40s %s\n",
				severityDot(c.Severity), c.Disposition, c.Path, c.Reason)
		}
		fmt.Println()
	}

	s := p.Summary
	fmt.Printf("Summary: %d file(s) changed; %d auto-mergeable, %d agent-resolvable, %d for human review\n",
		s.TotalFiles, s.AutoMergeable, s.AIResolved, s.HumanRequired)

	switch {
	case p.GitConflicts != nil && p.GitConflicts.HasConflicts:
		fmt.Printf("\nResolve the divergence first; drydock merge %s will refuse to guess.\n", shortID(taskID))
	case s.HumanRequired > 0:
		fmt.Printf("\nReview the flagged files, then: drydock merge %s\n", shortID(taskID))
	default:
		fmt.Printf("\nLooks clean: drydock merge %s\n", shortID(taskID))
	}
	return nil
}

func severityDot(s merge.Severity) string {
	switch s {
	case merge.SeverityCritical, merge.SeverityHigh:
		return color.RedString("●")
	case merge.SeverityMedium:
		return color.YellowString("●")
	default:
		return color.GreenString("●")
	}
}
