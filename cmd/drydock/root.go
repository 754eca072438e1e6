package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the agent binary is available in PATH.
// Returns an error with installation instructions if not found.
func CheckAgentCLI(binary string) error {
	_, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"Drydock runs coding agents through the Claude Code CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"Or switch to the direct API runner:\n"+
			"  drydock config agent.runner api", binary)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "drydock",
	Short: "Per-task AI coding pipeline on git worktrees",
	Long: `Drydock runs AI coding agents against your repository, one isolated
git worktree per task, and walks each task through a fixed pipeline:
backlog, in_progress, ai_review, qa_fixing, human_review, done.

The agent works on its own branch so your checkout stays untouched.
When a run finishes you inspect the result, then merge it back, open a
pull request, or stage the changes straight into the project tree.

Core capabilities:
- One git worktree and branch (drydock/<task-id>) per task
- Live progress aggregated from agent phase events
- Stall detection with in-place recovery
- Conflict-classified merge previews before anything lands
- Pull requests through the gh CLI`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(prCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
