package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/orchestrator"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <task-id>",
	Short: "Merge a reviewed task back into the base branch",
	Long: `Merge a task's branch back into the base branch it was cut from.

Merge is for tasks in human_review or later: inspect the run first,
then land it. A clean fast-forward or rebase is preferred; a true merge
is the fallback. On success the worktree and branch are removed and the
task is done.

Conflicts never resolve silently. A blocked merge leaves the base
branch untouched, reports the conflicting files, and keeps the task
where it was; drydock preview shows the same conflicts with their
classification.

Examples:
  drydock preview 4f1c9a22   # See what the merge would do
  drydock merge 4f1c9a22`,
	Args: cobra.ExactArgs(1),
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	taskID, err := a.resolveTaskID(args[0])
	if err != nil {
		return err
	}

	m, err := a.newMachine(nil)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.Merge(context.Background(), taskID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			return fmt.Errorf("task %s still has a running agent; stop it first", shortID(taskID))
		}
		return err
	}

	if !res.Success {
		printStatus("✗", nonEmpty(res.Message, "merge blocked"), color.FgRed)
		if len(res.ConflictFiles) > 0 {
			fmt.Println("  Conflicting files:")
			for _, f := range res.ConflictFiles {
				fmt.Printf("    %s\n", f)
			}
		}
		fmt.Printf("\nThe base branch was left untouched. Inspect with:\n  drydock preview %s\n", shortID(taskID))
		return fmt.Errorf("merge blocked by conflicts")
	}

	printStatus("✓", nonEmpty(res.Message, "merged"), color.FgGreen)
	if res.UsedRebase {
		fmt.Println("  Landed by rebase; history stays linear.")
	}
	fmt.Printf("  Worktree and branch removed; task %s is done.\n", shortID(taskID))
	return nil
}
