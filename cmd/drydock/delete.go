package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/orchestrator"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task and its worktree",
	Long: `Delete a task, cascading to its worktree and branch.

A task with a live agent cannot be deleted; stop it first. The one
exception is a stuck task, whose quiet process is killed as part of the
delete.

If the worktree is removed but the task record cannot be deleted, the
task is marked deleted_partial and kept visible in status output.
Re-running delete on such a task retries only the record removal.

Examples:
  drydock delete 4f1c9a22
  drydock delete 4f1c9a22 --force   # Skip the confirmation prompt`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	if !deleteForce {
		fmt.Printf("Delete task %q (%s)", task.Title, shortID(taskID))
		if wt, err := a.db.GetWorktree(taskID); err == nil && wt != nil {
			fmt.Printf(" and its worktree at %s", wt.Path)
		}
		fmt.Print("? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Delete cancelled.")
			return nil
		}
	}

	m, err := a.newMachine(nil)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.Delete(context.Background(), taskID)
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return fmt.Errorf("task %s has a running agent; stop it first with drydock stop %s", shortID(taskID), shortID(taskID))
	case errors.Is(err, orchestrator.ErrDeletedPartial):
		printStatus("⚠", "worktree removed, but the task record could not be deleted", color.FgYellow)
		fmt.Printf("  The task is marked deleted_partial. Re-run:\n  drydock delete %s\n", shortID(taskID))
		return err
	case err != nil:
		return err
	}

	if res.WorktreeRemoved {
		printStatus("✓", fmt.Sprintf("deleted task %s, its worktree and branch", shortID(taskID)), color.FgGreen)
	} else {
		printStatus("✓", fmt.Sprintf("deleted task %s", shortID(taskID)), color.FgGreen)
	}
	return nil
}
