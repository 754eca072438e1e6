package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// ProjectFile is the typed shape of a .drydock.yaml project override. Only
// keys that make sense per-project appear here; user-level settings like the
// API key stay in the user config.
type ProjectFile struct {
	Agent struct {
		Model string `yaml:"model"`
	} `yaml:"agent"`
	Git struct {
		BaseBranch string `yaml:"base_branch"`
	} `yaml:"git"`
	Worktree struct {
		Root string `yaml:"root"`
	} `yaml:"worktree"`
	GitHub struct {
		Repo string `yaml:"repo"`
	} `yaml:"github"`
}

// ReadProjectFile parses a .drydock.yaml file.
func ReadProjectFile(path string) (*ProjectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pf := &ProjectFile{}
	if err := yaml.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pf, nil
}

// projectTemplate is the .drydock.yaml written by drydock init.
const projectTemplate = `# drydock project configuration.
# Values here override the user config for this repository.

git:
  # Branch task worktrees are cut from and merge back into.
  base_branch: main

agent:
  # Model override for this project. Empty uses the runner default.
  model: ""

# worktree:
#   root: ~/.drydock/worktrees/myproject

# github:
#   repo: owner/name
`

// WriteProjectTemplate writes the starter .drydock.yaml to path. Fails if the
// file already exists.
func WriteProjectTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(projectTemplate), 0644)
}
