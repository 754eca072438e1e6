package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/orchestrator"
	"github.com/drydocklabs/drydock/pkg/models"
)

var startModel string

var startCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Launch an agent on a task",
	Long: `Launch a coding agent on a backlog task and follow its run.

The task gets a dedicated git worktree and branch (drydock/<task-id>)
cut from the base branch, an agent process attached, and moves to
in_progress. Progress streams to the terminal until the agent finishes;
the task then lands in human_review for inspection.

Ctrl-C does not abandon the run abruptly: the agent is asked to stop,
given a grace period, and the task returns to backlog with its progress
kept. Restarting a human_review task discards nothing; the agent
continues in the same worktree.

Examples:
  drydock start 4f1c9a22                      # Full ID or unique prefix
  drydock start 4f1c --model claude-sonnet-4-5`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startModel, "model", "", "Override the configured agent model")
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	taskID, err := a.resolveTaskID(args[0])
	if err != nil {
		return err
	}

	if startModel != "" {
		a.cfg.Agent.Model = startModel
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

	task, err := m.Start(context.Background(), taskID)
	if err != nil {
		return err
	}
	printStatus("▶", fmt.Sprintf("started %q (%s)", task.Title, shortID(taskID)), color.FgCyan)

	// Watchers run for the rest of the command: out-of-band stop signals
	// from other drydock processes, and the stall sweep.
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

// followRun streams machine events for one task until its run ends. An
// interrupt asks the machine for a graceful stop instead of letting the
// process group die with the terminal.
func followRun(m *orchestrator.Machine, taskID string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	events := m.Events()
	done := m.Wait(taskID)

	for {
		select {
		case ev := <-events:
			renderEvent(ev)
		case <-done:
			drainEvents(events, 200*time.Millisecond)
			return nil
		case <-sigCh:
			fmt.Println()
			printStatus("⚠", "interrupt: asking the agent to stop...", color.FgYellow)
			res, err := m.Stop(context.Background(), taskID)
			if err != nil {
				if errors.Is(err, orchestrator.ErrNotRunning) {
					// The run ended while the stop was in flight.
					drainEvents(events, 200*time.Millisecond)
					return nil
				}
				return fmt.Errorf("stop task %s: %w", taskID, err)
			}
			drainEvents(events, 200*time.Millisecond)
			if res.Forced {
				printStatus("✗", "agent did not stop in time and was killed", color.FgRed)
			}
			return nil
		}
	}
}

// drainEvents prints events already buffered when a run ends, so the
// terminal transition is not swallowed by the exit.
func drainEvents(events <-chan orchestrator.OrchestratorEvent, wait time.Duration) {
	deadline := time.After(wait)
	for {
		select {
		case ev := <-events:
			renderEvent(ev)
		case <-deadline:
			return
		}
	}
}

// renderEvent prints one machine event as a terminal line.
func renderEvent(ev orchestrator.OrchestratorEvent) {
	switch ev.Type {
	case orchestrator.EventTaskStarted:
		printStatus("▶", ev.Message, color.FgCyan)
	case orchestrator.EventProgress:
		fmt.Printf("  %s %3d%%  %s\n", progressBar(ev.Progress), ev.Progress, ev.Message)
	case orchestrator.EventTaskStuck:
		printStatus("⚠", fmt.Sprintf("task %s: %s", shortID(ev.TaskID), ev.Message), color.FgYellow)
	case orchestrator.EventTaskStopped:
		printStatus("■", nonEmpty(ev.Message, "agent stopped"), color.FgYellow)
	case orchestrator.EventTaskCompleted:
		printStatus("✓", nonEmpty(ev.Message, "agent finished"), color.FgGreen)
	case orchestrator.EventTaskFailed:
		msg := nonEmpty(ev.Message, "agent failed")
		if ev.Error != nil {
			msg = fmt.Sprintf("%s (%v)", msg, ev.Error)
		}
		printStatus("✗", msg, color.FgRed)
	case orchestrator.EventMergeCompleted, orchestrator.EventPRCreated:
		printStatus("✓", ev.Message, color.FgGreen)
	}
}

// reportOutcome tells the user where the pipeline left the task and what
// usually comes next.
func reportOutcome(status models.TaskStatus, taskID string) {
	switch status {
	case models.TaskStatusHumanReview:
		fmt.Printf("\nTask is ready for review:\n")
		fmt.Printf("  drydock preview %s   # inspect the changes\n", shortID(taskID))
		fmt.Printf("  drydock merge %s     # land them on the base branch\n", shortID(taskID))
	case models.TaskStatusBacklog:
		fmt.Printf("\nTask is back in backlog. Restart it with:\n")
		fmt.Printf("  drydock start %s\n", shortID(taskID))
	case models.TaskStatusDone:
		fmt.Printf("\nTask is done.\n")
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
