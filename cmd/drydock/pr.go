package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/publish"
)

var (
	prRepo  string
	prTitle string
	prBody  string
)

var prCmd = &cobra.Command{
	Use:   "pr <task-id>",
	Short: "Open a pull request for a reviewed task",
	Long: `Push a task's branch and open a pull request through the gh CLI.

The task must be in human_review or later. The branch is pushed to the
remote, a pull request is opened against the base branch, and the task
moves to pr_created with the PR URL kept on the task.

Re-running pr on a task whose branch already has an open pull request
adopts that PR instead of failing.

Examples:
  drydock pr 4f1c9a22
  drydock pr 4f1c9a22 --title "Add login page" --repo acme/web`,
	Args: cobra.ExactArgs(1),
	RunE: runPR,
}

func init() {
	prCmd.Flags().StringVar(&prRepo, "repo", "", "Target repository (owner/name); detected from the checkout when empty")
	prCmd.Flags().StringVar(&prTitle, "title", "", "PR title; defaults to the task title")
	prCmd.Flags().StringVar(&prBody, "body", "", "PR body; generated from the task when empty")
}

func runPR(cmd *cobra.Command, args []string) error {
	if _, err := exec.LookPath("gh"); err != nil {
		return fmt.Errorf("gh CLI not found in PATH\n\n" +
			"Drydock opens pull requests through the GitHub CLI.\n\n" +
			"Install it from https://cli.github.com and run: gh auth login")
	}

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

	res, err := m.CreatePR(context.Background(), taskID, publish.PROptions{
		Repo:  prRepo,
		Title: prTitle,
		Body:  prBody,
	})
	if err != nil {
		return err
	}

	if res.AlreadyExists {
		printStatus("✓", "a pull request for this branch is already open", color.FgGreen)
	} else {
		printStatus("✓", "pull request opened", color.FgGreen)
	}
	fmt.Printf("  %s\n", res.URL)
	return nil
}
