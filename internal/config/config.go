// Package config handles configuration loading and management for drydock.
// It supports user-level config files, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ProjectFileName is the project-level override file discovered by walking
// parent directories from the working directory.
const ProjectFileName = ".drydock.yaml"

// Config holds all configuration for drydock.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Git       GitConfig       `mapstructure:"git"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Log       LogConfig       `mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseBedrock routes agent API calls through AWS Bedrock instead of the
	// direct Anthropic API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the region for Bedrock calls (e.g. "us-west-2").
	AWSRegion string `mapstructure:"aws_region"`
}

// AgentConfig holds agent execution settings.
type AgentConfig struct {
	// Runner selects how agents execute: "cli" shells out to the claude
	// binary, "api" drives the Anthropic API in process.
	Runner string `mapstructure:"runner"`
	// Binary is the CLI executable used by the "cli" runner.
	Binary string `mapstructure:"binary"`
	// Model overrides the runner's default model when set.
	Model string `mapstructure:"model"`
}

// GitConfig holds repository settings.
type GitConfig struct {
	// BaseBranch is the branch task worktrees are cut from and merge back
	// into.
	BaseBranch string `mapstructure:"base_branch"`
}

// WorktreeConfig holds worktree placement settings.
type WorktreeConfig struct {
	// Root is the directory holding per-task worktrees. Empty means
	// ~/.drydock/worktrees/<repoName>. Supports a leading ~.
	Root string `mapstructure:"root"`
}

// GitHubConfig holds pull request settings.
type GitHubConfig struct {
	// Repo is the owner/name pull requests are opened against. Empty lets
	// the gh CLI infer it from the remote.
	Repo string `mapstructure:"repo"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Debug enables the file-based debug log under .drydock/logs.
	Debug bool `mapstructure:"debug"`
}

// Load loads configuration from the user config file, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, DRYDOCK_*)
// 2. Project config (.drydock.yaml in current directory or a parent)
// 3. User config (os.UserConfigDir()/drydock/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := buildViper()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, skipping user and
// project discovery.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Value returns one merged configuration value by dotted key ("git.base_branch").
func Value(key string) (interface{}, error) {
	v, err := buildViper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v.Get(key), nil
}

// SetKey writes one key into the user config file, creating the file if
// needed. Project overrides and environment variables are untouched.
func SetKey(key string, value interface{}) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)
	// A missing file just means we start from nothing.
	_ = v.ReadInConfig()

	v.Set(key, value)
	return v.WriteConfigAs(path)
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("agent.runner", cfg.Agent.Runner)
	v.Set("agent.binary", cfg.Agent.Binary)
	v.Set("agent.model", cfg.Agent.Model)
	v.Set("git.base_branch", cfg.Git.BaseBranch)
	v.Set("worktree.root", cfg.Worktree.Root)
	v.Set("github.repo", cfg.GitHub.Repo)
	v.Set("log.debug", cfg.Log.Debug)

	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if one
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// WorktreeRoot resolves the directory holding per-task worktrees for the
// given repository. An explicit worktree.root wins; the default is
// ~/.drydock/worktrees/<repoName>.
func WorktreeRoot(cfg *Config, repoPath string) string {
	if cfg != nil && cfg.Worktree.Root != "" {
		return expandHome(expandEnv(cfg.Worktree.Root))
	}

	repoName := filepath.Base(repoPath)
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".drydock", "worktrees", repoName)
	}
	return filepath.Join(home, ".drydock", "worktrees", repoName)
}

// buildViper assembles the merged configuration stack.
func buildViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// User config
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config if present (takes precedence over user config)
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides: DRYDOCK_GIT_BASE_BRANCH and friends,
	// plus the conventional ANTHROPIC_API_KEY.
	v.SetEnvPrefix("DRYDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	return v, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")

	v.SetDefault("agent.runner", "cli")
	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.model", "")

	v.SetDefault("git.base_branch", "main")

	v.SetDefault("worktree.root", "")

	v.SetDefault("github.repo", "")

	v.SetDefault("log.debug", false)
}

// getUserConfigDir returns the user config directory for drydock.
func getUserConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".config", "drydock")
	}
	return filepath.Join(base, "drydock")
}

// findProjectConfig searches for .drydock.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfigFrom(cwd)
}

// findProjectConfigFrom walks dir and its parents looking for the project
// config file.
func findProjectConfigFrom(dir string) string {
	for {
		configPath := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Runner: "cli",
			Binary: "claude",
		},
		Git: GitConfig{
			BaseBranch: "main",
		},
	}
}
