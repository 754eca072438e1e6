package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/drydocklabs/drydock/internal/agent"
	"github.com/drydocklabs/drydock/internal/api"
	"github.com/drydocklabs/drydock/internal/config"
	"github.com/drydocklabs/drydock/internal/exec"
	"github.com/drydocklabs/drydock/internal/githost"
	"github.com/drydocklabs/drydock/internal/merge"
	"github.com/drydocklabs/drydock/internal/orchestrator"
	"github.com/drydocklabs/drydock/internal/publish"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/internal/worktree"
)

// app bundles the wiring shared by every task command: repository root,
// loaded configuration, open state database, merge engine, and worktree
// store. Commands that attach or manage agents build a Machine on top via
// newMachine.
type app struct {
	cfg      *config.Config
	repoPath string
	db       *state.DB
	engine   *merge.Engine
	store    *worktree.Store
	recovery *state.RecoveryManager
	logger   *orchestrator.DebugLogger
}

// openApp wires up the project the current directory belongs to. Every
// open runs startup recovery: tasks whose recorded agent process is dead
// are reset to backlog and reported.
func openApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return nil, fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := state.OpenProject(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	recovery := state.NewRecoveryManager(db)
	reset, err := recovery.ResetAllInterrupted()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("startup recovery: %w", err)
	}
	for _, id := range reset {
		printStatus("⚠", fmt.Sprintf("task %s was interrupted; reset to backlog", shortID(id)), color.FgYellow)
	}

	engine := merge.NewEngine(repoPath)
	store, err := worktree.NewStore(config.WorktreeRoot(cfg, repoPath), repoPath, db, engine)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open worktree store: %w", err)
	}

	var logger *orchestrator.DebugLogger
	if cfg.Log.Debug {
		logger = orchestrator.NewDebugLoggerForRepo(repoPath)
	}

	return &app{
		cfg:      cfg,
		repoPath: repoPath,
		db:       db,
		engine:   engine,
		store:    store,
		recovery: recovery,
		logger:   logger,
	}, nil
}

// Close releases the app's resources. Safe after a partial open.
func (a *app) Close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// newMachine builds the task state machine on the app's wiring. Commands
// that never launch an agent pass nil and get the subprocess launcher,
// which only matters if they would ever call Launch.
func (a *app) newMachine(launcher agent.Launcher) (*orchestrator.Machine, error) {
	if launcher == nil {
		launcher = a.cliLauncher()
	}
	host := githost.NewGHClient(exec.NewRunner())
	publisher := publish.NewCoordinator(a.repoPath, a.db, a.db, host, a.engine)

	return orchestrator.NewMachine(orchestrator.Config{
		RepoPath:   a.repoPath,
		Store:      a.db,
		Worktrees:  a.store,
		Launcher:   launcher,
		Publisher:  publisher,
		Recovery:   a.recovery,
		BaseBranch: a.cfg.Git.BaseBranch,
		Model:      a.cfg.Agent.Model,
		Logger:     a.logger,
	})
}

// cliLauncher builds the subprocess launcher from configuration.
func (a *app) cliLauncher() *agent.CLILauncher {
	l := agent.NewCLILauncher()
	if a.cfg.Agent.Binary != "" {
		l.Binary = a.cfg.Agent.Binary
	}
	l.Model = a.cfg.Agent.Model
	return l
}

// buildLauncher picks the agent runner from configuration: "cli" runs the
// claude binary as a subprocess, "api" drives the Anthropic API directly.
func (a *app) buildLauncher() (agent.Launcher, error) {
	switch a.cfg.Agent.Runner {
	case "", "cli":
		return a.cliLauncher(), nil
	case "api":
		client, err := api.NewClient(api.ClientConfig{
			APIKey:        a.cfg.Anthropic.APIKey,
			UseAWSBedrock: a.cfg.Anthropic.UseBedrock,
			AWSRegion:     a.cfg.Anthropic.AWSRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("configure api runner: %w", err)
		}
		return api.NewLauncher(client), nil
	default:
		return nil, fmt.Errorf("unknown agent runner %q (want cli or api)", a.cfg.Agent.Runner)
	}
}

// resolveTaskID expands a unique task ID prefix to the full ID, so short
// prefixes from status output work everywhere a task ID is expected.
func (a *app) resolveTaskID(arg string) (string, error) {
	_, err := a.db.GetTask(arg)
	if err == nil {
		return arg, nil
	}
	if !errors.Is(err, state.ErrTaskNotFound) {
		return "", err
	}

	tasks, err := a.db.ListTasks("")
	if err != nil {
		return "", err
	}
	var matches []string
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, arg) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("task %s: %w", arg, state.ErrTaskNotFound)
	default:
		return "", fmt.Errorf("task ID prefix %q is ambiguous (%d matches)", arg, len(matches))
	}
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
