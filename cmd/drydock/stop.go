package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a running task's agent",
	Long: `Stop the agent attached to a running task.

The run is owned by the drydock process that started it, so stop works
out of band: it drops a signal file under .drydock/signals that the
owning process picks up within seconds. The agent is asked to stop
cooperatively, given a grace period, and the task returns to backlog
with its progress kept. Only an agent that ignores the request is
killed.

Examples:
  drydock stop 4f1c9a22`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
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
	if !task.Status.Active() {
		return fmt.Errorf("task %s has no running agent (status %s)", shortID(taskID), task.Status)
	}

	if err := orchestrator.WriteStopSignal(a.repoPath, taskID); err != nil {
		return fmt.Errorf("write stop signal: %w", err)
	}

	printStatus("✓", fmt.Sprintf("stop requested for %q", task.Title), color.FgGreen)
	fmt.Println("  The process running the task will stop the agent gracefully.")
	fmt.Printf("  Watch it land with: drydock status %s\n", shortID(taskID))
	return nil
}
