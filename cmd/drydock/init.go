package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/config"
	"github.com/drydocklabs/drydock/internal/state"
)

var (
	initForce          bool
	initNoGit          bool
	initSkipAgentCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Drydock project",
	Long: `Initialize a directory for use with Drydock.

This command sets up everything needed to run tasks:
  - Verifies prerequisites (git, agent CLI)
  - Initializes a git repository if needed
  - Creates the .drydock directory with the state database
  - Creates a .drydock.yaml project configuration template

The directory argument is optional and defaults to the current directory.

Examples:
  drydock init                    # Initialize current directory
  drydock init ./myproject        # Initialize specific directory
  drydock init --force            # Reinitialize even if already set up
  drydock init --skip-agent-check # Skip the agent CLI availability check`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initSkipAgentCheck, "skip-agent-check", false, "Skip agent CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}
	if err := os.Chdir(absPath); err != nil {
		return fmt.Errorf("changing to directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing Drydock in %s...\n\n", absPath)

	drydockDir := filepath.Join(absPath, ".drydock")
	if _, err := os.Stat(drydockDir); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	// Prerequisites.
	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if !initSkipAgentCheck && cfg.Agent.Runner != "api" {
		binary := cfg.Agent.Binary
		if binary == "" {
			binary = "claude"
		}
		if err := CheckAgentCLI(binary); err != nil {
			printStatus("✗", fmt.Sprintf("Agent CLI %q not found", binary), color.FgRed)
			return err
		}
		printStatus("✓", fmt.Sprintf("Agent CLI %q found", binary), color.FgGreen)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" && cfg.Anthropic.APIKey == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (needed for the api runner)", color.FgYellow)
	} else {
		printStatus("✓", fmt.Sprintf("API key %s", config.MaskAPIKey(firstNonEmpty(apiKey, cfg.Anthropic.APIKey))), color.FgGreen)
	}

	if _, err := exec.LookPath("gh"); err != nil {
		printStatus("⚠", "gh CLI not found; drydock pr will be unavailable", color.FgYellow)
	} else {
		printStatus("✓", "gh CLI found", color.FgGreen)
	}

	// Git repository.
	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	// .drydock structure: logs, stop-signal directory, state database.
	for _, dir := range []string{
		drydockDir,
		filepath.Join(drydockDir, "logs"),
		filepath.Join(drydockDir, "signals"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .drydock directory structure", color.FgGreen)

	db, err := state.OpenProject(absPath)
	if err != nil {
		return fmt.Errorf("create state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate state database: %w", err)
	}
	db.Close()
	printStatus("✓", "Created state database", color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with Drydock entries", color.FgGreen)
	}

	configPath := filepath.Join(absPath, config.ProjectFileName)
	if _, err := os.Stat(configPath); err == nil {
		printStatus("✓", config.ProjectFileName+" already exists", color.FgGreen)
	} else {
		if err := config.WriteProjectTemplate(configPath); err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		printStatus("✓", "Created "+config.ProjectFileName+" template", color.FgGreen)
	}

	branch := "main"
	if !initNoGit {
		if b, err := getCurrentBranch(); err == nil && b != "" {
			branch = b
		}
	}

	fmt.Printf("\n%s Drydock initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Create a task:")
	fmt.Println("     drydock new --title \"Add login page\"")
	fmt.Println()
	fmt.Println("  2. Launch an agent on it:")
	fmt.Println("     drydock start <task-id>")
	fmt.Println()
	fmt.Println("  3. Review and land the result:")
	fmt.Println("     drydock preview <task-id> && drydock merge <task-id>")
	fmt.Println()
	fmt.Println("Project details:")
	fmt.Printf("  Project name: %s\n", detectProjectName(absPath))
	fmt.Printf("  Repository: %s\n", absPath)
	if !initNoGit {
		fmt.Printf("  Base branch: %s\n", branch)
	}

	return nil
}

// checkGitInstalled checks if git is installed
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Drydock requires git to manage worktrees and branches.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes the git repository and ensures basic requirements
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}

	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	return nil
}

// hasAnyCommits checks if the repository has any commits
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 128 typically means no commits
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit. Worktrees need a commit
// to branch from.
func ensureInitialCommit(repoPath string) error {
	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}

	return nil
}

// getCurrentBranch returns the current git branch
func getCurrentBranch() (string, error) {
	cmd := exec.Command("git", "branch", "--show-current")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// updateGitignore adds Drydock entries to .gitignore if not present
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	drydockEntries := []string{
		".drydock/",
		"drydock",
	}

	needsUpdate := false
	for _, entry := range drydockEntries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}

	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)

	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}

	newContent.WriteString("\n# Drydock\n")
	for _, entry := range drydockEntries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// detectProjectName detects the project name from the git remote, falling
// back to the directory name.
func detectProjectName(repoPath string) string {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	cmd.Dir = repoPath
	if output, err := cmd.Output(); err == nil {
		url := strings.TrimSpace(string(output))
		url = strings.TrimSuffix(url, ".git")
		parts := strings.Split(url, "/")
		if len(parts) > 0 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1]
		}
	}

	return filepath.Base(repoPath)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
