package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	discardForce      bool
	discardKeepStatus bool
)

var discardCmd = &cobra.Command{
	Use:   "discard <task-id>",
	Short: "Throw away a task's worktree and changes",
	Long: `Remove a task's worktree and branch, discarding every change the
agent made.

The task itself survives and returns to backlog for a fresh start. With
--keep-status the task's status is left alone, for pipelines that
manage status themselves.

Discarding is destructive; unmerged work in the worktree is gone.

Examples:
  drydock discard 4f1c9a22
  drydock discard 4f1c9a22 --keep-status`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscard,
}

func init() {
	discardCmd.Flags().BoolVarP(&discardForce, "force", "f", false, "Skip confirmation prompt")
	discardCmd.Flags().BoolVar(&discardKeepStatus, "keep-status", false, "Keep the task's status instead of resetting to backlog")
}

func runDiscard(cmd *cobra.Command, args []string) error {
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
	if task.Status.Active() {
		return fmt.Errorf("task %s has a running agent; stop it before discarding", shortID(taskID))
	}

	wt, err := a.db.GetWorktree(taskID)
	if err != nil {
		return err
	}
	if wt == nil {
		return fmt.Errorf("task %s has no worktree to discard", shortID(taskID))
	}

	if !discardForce {
		fmt.Printf("Discard all changes on %s (worktree %s)? [y/N] ", wt.Branch, wt.Path)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Discard cancelled.")
			return nil
		}
	}

	if err := a.store.Discard(context.Background(), taskID, discardKeepStatus); err != nil {
		return fmt.Errorf("discard worktree: %w", err)
	}

	printStatus("✓", fmt.Sprintf("discarded worktree and branch for task %s", shortID(taskID)), color.FgGreen)
	if !discardKeepStatus {
		fmt.Printf("  Task is back in backlog: drydock start %s\n", shortID(taskID))
	}
	return nil
}
