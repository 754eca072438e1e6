package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees",
	Long: `Clean up worktrees no live task owns.

This command:
  - Lists all drydock worktrees git knows about
  - Identifies orphans (branch in the drydock/ namespace, but no task
    behind it that could still use the worktree)
  - Removes orphaned worktrees and their branches
  - Sweeps directories under the worktree root that git lost track of,
    e.g. after a crash between worktree add and record write

Worktrees of tasks in backlog or review states are never touched; a
stopped task restarts in its existing worktree.

Use this after a crash or an interrupted run to reclaim disk.

Examples:
  drydock cleanup              # Interactive cleanup with confirmation
  drydock cleanup --force      # Skip confirmation prompt
  drydock cleanup --dry-run    # Show what would be removed
  drydock cleanup -v           # Show each removal`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Every non-terminal task may still need its worktree: a stopped task
	// restarts in it, a reviewed one merges from it.
	tasks, err := a.db.ListTasks("")
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	var activeIDs []string
	for _, t := range tasks {
		if !t.Status.Terminal() {
			activeIDs = append(activeIDs, t.ID)
		}
	}

	orphans, err := a.store.ListOrphans(activeIDs)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
	} else {
		fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
		for _, e := range orphans {
			fmt.Printf("  - %s (branch: %s)\n", e.Path, e.Branch)
		}
		fmt.Println()

		if cleanupDryRun {
			fmt.Println("Dry run mode - no worktrees were removed.")
		} else {
			proceed := cleanupForce
			if !proceed {
				fmt.Print("Remove these worktrees? [y/N] ")
				reader := bufio.NewReader(os.Stdin)
				response, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				response = strings.TrimSpace(strings.ToLower(response))
				proceed = response == "y" || response == "yes"
				if !proceed {
					fmt.Println("Worktree cleanup cancelled.")
				}
			}

			if proceed {
				var verboseCallback func(path string)
				if cleanupVerbose {
					verboseCallback = func(path string) {
						fmt.Printf("Removed: %s\n", path)
					}
				}

				removed, err := a.store.CleanupOrphans(activeIDs, verboseCallback)
				if err != nil {
					return fmt.Errorf("cleanup orphaned worktrees: %w", err)
				}
				printStatus("✓", fmt.Sprintf("removed %d orphaned worktree(s)", removed), color.FgGreen)
			}
		}
	}

	// Untracked directories are never in active use; sweep them without
	// a prompt.
	if !cleanupDryRun {
		stray, err := a.store.RemoveUntracked()
		if err != nil {
			return fmt.Errorf("remove untracked directories: %w", err)
		}
		if len(stray) > 0 {
			for _, p := range stray {
				if cleanupVerbose {
					fmt.Printf("Removed untracked: %s\n", p)
				}
			}
			printStatus("✓", fmt.Sprintf("removed %d untracked director(ies) under %s", len(stray), a.store.BaseDir()), color.FgGreen)
		}
	}

	return nil
}
