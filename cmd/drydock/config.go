package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or change configuration",
	Long: `Show or change Drydock configuration.

With no arguments, shows the effective configuration after merging the
user config, the project .drydock.yaml, and DRYDOCK_* environment
variables. With a key, prints that value. With a key and value, writes
the key to the user config file.

Keys:
  anthropic.api_key      Anthropic API key (or set ANTHROPIC_API_KEY)
  anthropic.use_bedrock  Route API calls through AWS Bedrock
  anthropic.aws_region   AWS region for Bedrock
  agent.runner           Agent runner: cli (claude subprocess) or api
  agent.binary           Agent CLI binary, default "claude"
  agent.model            Model override for agent runs
  git.base_branch        Branch worktrees are cut from, default "main"
  worktree.root          Worktree root, default ~/.drydock/worktrees/<repo>
  github.repo            owner/name for PRs; detected from the checkout when empty
  log.debug              Write a debug log under .drydock/logs

Examples:
  drydock config                          # Show everything
  drydock config agent.model              # Show one value
  drydock config git.base_branch develop  # Set a value`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

// boolKeys are config keys parsed as booleans when set from the CLI.
var boolKeys = map[string]bool{
	"anthropic.use_bedrock": true,
	"log.debug":             true,
}

func runConfig(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		return displayAllConfig()
	case 1:
		return displayConfigKey(strings.ToLower(args[0]))
	default:
		return setConfigKey(strings.ToLower(args[0]), args[1])
	}
}

func displayAllConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	fmt.Printf("User config:    %s\n", config.GetUserConfigPath())
	projectPath := config.GetProjectConfigPath()
	if projectPath == "" {
		fmt.Printf("Project config: (none)\n\n")
	} else {
		fmt.Printf("Project config: %s\n\n", projectPath)
	}

	fmt.Println("anthropic:")
	fmt.Printf("  api_key:     %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("  use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("  aws_region:  %s\n", orUnset(cfg.Anthropic.AWSRegion))
	fmt.Println("agent:")
	fmt.Printf("  runner:      %s\n", cfg.Agent.Runner)
	fmt.Printf("  binary:      %s\n", cfg.Agent.Binary)
	fmt.Printf("  model:       %s\n", orUnset(cfg.Agent.Model))
	fmt.Println("git:")
	fmt.Printf("  base_branch: %s\n", cfg.Git.BaseBranch)
	fmt.Println("worktree:")
	fmt.Printf("  root:        %s\n", orUnset(cfg.Worktree.Root))
	fmt.Println("github:")
	fmt.Printf("  repo:        %s\n", orUnset(cfg.GitHub.Repo))
	fmt.Println("log:")
	fmt.Printf("  debug:       %t\n", cfg.Log.Debug)

	if projectPath != "" {
		printProjectOverrides(projectPath)
	}

	if src := config.GetAPIKeySource(cfg); src == config.KeySourceEnv {
		fmt.Println("\nAPI key comes from the ANTHROPIC_API_KEY environment variable.")
	}
	return nil
}

// printProjectOverrides lists the values the project file sets, so it is
// visible which parts of the effective config come from the repository.
func printProjectOverrides(path string) {
	pf, err := config.ReadProjectFile(path)
	if err != nil {
		return
	}

	var overrides [][2]string
	if pf.Agent.Model != "" {
		overrides = append(overrides, [2]string{"agent.model", pf.Agent.Model})
	}
	if pf.Git.BaseBranch != "" {
		overrides = append(overrides, [2]string{"git.base_branch", pf.Git.BaseBranch})
	}
	if pf.Worktree.Root != "" {
		overrides = append(overrides, [2]string{"worktree.root", pf.Worktree.Root})
	}
	if pf.GitHub.Repo != "" {
		overrides = append(overrides, [2]string{"github.repo", pf.GitHub.Repo})
	}
	if len(overrides) == 0 {
		return
	}

	fmt.Println("\nProject overrides:")
	for _, kv := range overrides {
		fmt.Printf("  %s = %s\n", kv[0], kv[1])
	}
}

func displayConfigKey(key string) error {
	v, err := config.Value(key)
	if err != nil {
		return err
	}
	if key == "anthropic.api_key" {
		if s, ok := v.(string); ok {
			fmt.Println(config.MaskAPIKey(s))
			return nil
		}
	}
	fmt.Println(v)
	return nil
}

func setConfigKey(key, raw string) error {
	var value interface{} = raw
	if boolKeys[key] {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", key, raw)
		}
		value = b
	}

	if err := config.SetKey(key, value); err != nil {
		return err
	}

	shown := raw
	if key == "anthropic.api_key" {
		shown = config.MaskAPIKey(raw)
	}
	printStatus("✓", fmt.Sprintf("set %s = %s", key, shown), color.FgGreen)
	fmt.Printf("  Written to %s\n", config.GetUserConfigPath())
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
