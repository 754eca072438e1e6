package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/progress"
	"github.com/drydocklabs/drydock/pkg/models"
)

var statusHistory bool

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the task pipeline",
	Long: `Show every task in the pipeline, or one task in detail.

The overview lists each task with its status, progress, and age. Tasks
whose agent has gone quiet past the stall timeout are marked stuck;
recover them with drydock recover. Tasks left half-deleted by an earlier
failure show up as deleted_partial until delete is re-run.

The detail view adds subtask state, worktree and branch statistics, and
with --history the task's full audit trail.

Examples:
  drydock status                    # Pipeline overview
  drydock status 4f1c9a22           # One task in detail
  drydock status 4f1c --history     # Include the audit trail`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "Show the task's audit trail")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		return printOverview(a)
	}

	taskID, err := a.resolveTaskID(args[0])
	if err != nil {
		return err
	}
	return printTaskDetail(a, taskID)
}

func printOverview(a *app) error {
	tasks, err := a.db.ListTasks("")
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks. Create one with: drydock new --title \"...\"")
		return nil
	}

	fmt.Printf("%-10s %-16s %-18s %-8s %s\n", "TASK", "STATUS", "PROGRESS", "AGE", "TITLE")
	for _, t := range tasks {
		status := string(t.Status)
		if taskStuck(t) {
			status += " ⚠"
		}
		bar := ""
		if t.Progress != nil {
			bar = fmt.Sprintf("%s %3d%%", progressBar(t.Progress.OverallProgress), t.Progress.OverallProgress)
		}
		fmt.Printf("%-10s %s %-18s %-8s %s\n",
			shortID(t.ID),
			statusColor(t.Status).Sprintf("%-16s", status),
			bar,
			formatAge(time.Since(t.CreatedAt)),
			t.Title,
		)
	}

	var notes []string
	for _, t := range tasks {
		if taskStuck(t) {
			notes = append(notes, fmt.Sprintf("task %s looks stuck; try: drydock recover %s", shortID(t.ID), shortID(t.ID)))
		}
		if t.Status == models.TaskStatusDeletedPartial {
			notes = append(notes, fmt.Sprintf("task %s is half-deleted; finish with: drydock delete %s", shortID(t.ID), shortID(t.ID)))
		}
	}
	if len(notes) > 0 {
		fmt.Println()
		for _, n := range notes {
			printStatus("⚠", n, color.FgYellow)
		}
	}
	return nil
}

func printTaskDetail(a *app, taskID string) error {
	task, err := a.db.GetTask(taskID)
	if err != nil {
		return err
	}

	fmt.Println(color.New(color.Bold).Sprint(task.Title))
	fmt.Printf("  ID:      %s\n", task.ID)
	if task.SpecID != "" {
		fmt.Printf("  Spec:    %s\n", task.SpecID)
	}

	status := statusColor(task.Status).Sprint(string(task.Status))
	if taskStuck(task) {
		status += color.YellowString(" (stuck: no progress since %s)", task.Progress.LastEventAt.Local().Format("15:04:05"))
	}
	fmt.Printf("  Status:  %s\n", status)
	fmt.Printf("  Created: %s ago\n", formatAge(time.Since(task.CreatedAt)))
	fmt.Printf("  Updated: %s ago\n", formatAge(time.Since(task.UpdatedAt)))
	if task.PID > 0 {
		fmt.Printf("  Agent:   pid %d\n", task.PID)
	}

	if p := task.Progress; p != nil {
		fmt.Printf("  Progress: %s %3d%%  %s\n", progressBar(p.OverallProgress), p.OverallProgress, p.Phase)
		if p.Message != "" {
			fmt.Printf("            %s\n", p.Message)
		}
		if p.CurrentSubtask != "" {
			fmt.Printf("  Current:  %s\n", p.CurrentSubtask)
		}
	}

	if len(task.Subtasks) > 0 {
		fmt.Println("  Subtasks:")
		for _, st := range task.Subtasks {
			fmt.Printf("    %s %s\n", subtaskSymbol(st.Status), st.Title)
		}
	}

	printWorktreeDetail(a, taskID)

	if url := task.Meta(models.MetaPRURL); url != "" {
		fmt.Printf("  PR:      %s\n", url)
	}
	if ts := task.Meta(models.MetaStagedAt); ts != "" {
		fmt.Printf("  Staged:  %s\n", ts)
	}
	if ts := task.Meta(models.MetaForcedStop); ts != "" {
		fmt.Printf("  Note:    agent was force-killed at %s\n", ts)
	}
	if ts := task.Meta(models.MetaRecoveredAt); ts != "" {
		fmt.Printf("  Note:    recovered from a stall at %s\n", ts)
	}

	if task.Status == models.TaskStatusDeletedPartial {
		printStatus("⚠", fmt.Sprintf("half-deleted; finish with: drydock delete %s", shortID(taskID)), color.FgYellow)
	}

	if statusHistory {
		if err := printHistory(a, taskID); err != nil {
			return err
		}
	}
	return nil
}

// printWorktreeDetail shows the worktree with refreshed diff statistics.
// Refreshing runs git; if that fails the stored record is shown as is.
func printWorktreeDetail(a *app, taskID string) {
	wt, err := a.store.Status(taskID)
	if err != nil {
		rec, recErr := a.db.GetWorktree(taskID)
		if recErr != nil || rec == nil {
			return
		}
		wt = rec
	}

	fmt.Printf("  Worktree: %s\n", wt.Path)
	fmt.Printf("    Branch:  %s (base %s)\n", wt.Branch, wt.BaseBranch)
	if wt.CommitCount > 0 || wt.FilesChanged > 0 {
		fmt.Printf("    Changes: %d commit(s), %d file(s), +%d -%d\n",
			wt.CommitCount, wt.FilesChanged, wt.Additions, wt.Deletions)
	}
}

func printHistory(a *app, taskID string) error {
	events, err := a.db.ListEvents(taskID, 0)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	fmt.Println("  History:")
	for _, ev := range events {
		fmt.Printf("    %s  %-14s %s\n", ev.CreatedAt.Local().Format("Jan 02 15:04:05"), ev.Kind, ev.Detail)
	}
	return nil
}

// taskStuck applies the stall heuristic to a persisted task, so status
// works against runs owned by another process.
func taskStuck(t *models.Task) bool {
	if t.Status != models.TaskStatusInProgress || t.Progress == nil {
		return false
	}
	return time.Since(t.Progress.LastEventAt) > progress.StallTimeout
}

// shortID trims a task UUID for display. Every command accepts the prefix
// back.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// progressBar renders 0-100 as a ten-cell bar.
func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct / 10
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", 10-filled) + "]"
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusInProgress, models.TaskStatusAIReview, models.TaskStatusQAFixing:
		return color.New(color.FgCyan)
	case models.TaskStatusHumanReview:
		return color.New(color.FgYellow)
	case models.TaskStatusPRCreated, models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusDeletedPartial:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func subtaskSymbol(s models.SubtaskStatus) string {
	switch s {
	case models.SubtaskCompleted:
		return color.GreenString("✓")
	case models.SubtaskInProgress:
		return color.CyanString("▸")
	case models.SubtaskFailed:
		return color.RedString("✗")
	default:
		return "·"
	}
}

// formatAge renders a duration in the largest sensible unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
