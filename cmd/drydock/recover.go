package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/orchestrator"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <task-id>",
	Short: "Relaunch the agent of a stuck task",
	Long: `Relaunch the agent of a task the stall detector flagged as stuck.

A task counts as stuck when its agent has reported no progress for over
a minute. Recover kills the quiet process if one is still attached,
relaunches a fresh agent in the same worktree, and follows the run. The
task keeps its subtask state and execution progress; the progress bar
never moves backwards across the relaunch.

Tasks whose owning process died outright are handled automatically: the
next drydock command resets them to backlog, and drydock start picks
them up from there.

Examples:
  drydock recover 4f1c9a22`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	taskID, err := a.resolveTaskID(args[0])
	if err != nil {
		return err
	}

	launcher, err := a.buildLauncher()
	if err != nil {
		return err
	}
	m, err := a.newMachine(launcher)
	if err != nil {
		return err
	}
	defer m.Close()

	task, err := m.Recover(context.Background(), taskID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotStuck) {
			return fmt.Errorf("task %s is not stuck; use drydock stop to interrupt a healthy run", shortID(taskID))
		}
		return err
	}
	printStatus("▶", fmt.Sprintf("recovered %q (%s)", task.Title, shortID(taskID)), color.FgCyan)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() { _ = m.WatchSignals(watchCtx) }()
	go m.WatchStalls(watchCtx)

	if err := followRun(m, taskID); err != nil {
		return err
	}

	final, err := a.db.GetTask(taskID)
	if err != nil {
		return err
	}
	reportOutcome(final.Status, taskID)
	return nil
}
