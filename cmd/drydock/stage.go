package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage <task-id>",
	Short: "Stage a task's changes into the project tree",
	Long: `Apply a task's changes to the project working tree without merging
its branch.

Staging squash-applies the branch's diff onto the current checkout and
leaves it uncommitted, for workflows where the final commit is shaped
by hand. The task's branch and worktree stay untouched, so a bad stage
can simply be checked out away and repeated.

Examples:
  drydock stage 4f1c9a22`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

func runStage(cmd *cobra.Command, args []string) error {
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

	res, err := m.Stage(context.Background(), taskID)
	if err != nil {
		return err
	}

	if !res.Success {
		printStatus("✗", nonEmpty(res.Message, "stage failed"), color.FgRed)
		if len(res.ConflictFiles) > 0 {
			fmt.Println("  Conflicting files:")
			for _, f := range res.ConflictFiles {
				fmt.Printf("    %s\n", f)
			}
		}
		return fmt.Errorf("stage blocked by conflicts")
	}

	printStatus("✓", nonEmpty(res.Message, "changes staged into the project tree"), color.FgGreen)
	fmt.Println("  The changes are uncommitted; review and commit them as you like.")
	return nil
}
