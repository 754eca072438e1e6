package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/drydocklabs/drydock/internal/exec"
)

// GHClient implements Host by shelling out to the gh CLI, which carries its
// own authentication (gh auth login).
type GHClient struct {
	runner exec.CommandRunner
	binary string
}

// NewGHClient creates a gh-backed host client.
func NewGHClient(runner exec.CommandRunner) *GHClient {
	return &GHClient{runner: runner, binary: "gh"}
}

var _ Host = (*GHClient)(nil)

// CreatePullRequest opens a PR via `gh pr create`. gh prints the new PR URL
// on the last line of stdout.
func (c *GHClient) CreatePullRequest(ctx context.Context, repo, branch, base, title, body string) (*PullRequest, error) {
	args := []string{
		"pr", "create",
		"--repo", repo,
		"--head", branch,
		"--base", base,
		"--title", title,
		"--body", body,
	}
	out, err := c.runner.Output(ctx, "", c.binary, args...)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("create pull request for %s: %w", branch, ErrPRExists)
		}
		return nil, fmt.Errorf("create pull request for %s: %w", branch, err)
	}

	url := lastLine(string(out))
	if url == "" {
		return nil, fmt.Errorf("create pull request for %s: gh returned no URL", branch)
	}
	return &PullRequest{
		Number: numberFromURL(url),
		URL:    url,
		Title:  title,
		State:  "open",
	}, nil
}

// FindPullRequest looks for an open PR with branch as its head.
func (c *GHClient) FindPullRequest(ctx context.Context, repo, branch string) (*PullRequest, error) {
	args := []string{
		"pr", "list",
		"--repo", repo,
		"--head", branch,
		"--state", "open",
		"--json", "number,url,title,state",
	}
	out, err := c.runner.Output(ctx, "", c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("find pull request for %s: %w", branch, err)
	}

	var prs []PullRequest
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, fmt.Errorf("find pull request for %s: parse gh output: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// ListBranches returns branch names via the REST API, paginated.
func (c *GHClient) ListBranches(ctx context.Context, repo string) ([]string, error) {
	args := []string{
		"api", fmt.Sprintf("repos/%s/branches", repo),
		"--paginate",
		"--jq", ".[].name",
	}
	out, err := c.runner.Output(ctx, "", c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("list branches for %s: %w", repo, err)
	}

	var branches []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// DetectRepo resolves the "owner/name" slug for the checkout at dir.
func (c *GHClient) DetectRepo(ctx context.Context, dir string) (string, error) {
	args := []string{"repo", "view", "--json", "nameWithOwner", "--jq", ".nameWithOwner"}
	out, err := c.runner.Output(ctx, dir, c.binary, args...)
	if err != nil {
		return "", fmt.Errorf("detect repository at %s: %w", dir, err)
	}

	slug := strings.TrimSpace(string(out))
	if slug == "" {
		return "", fmt.Errorf("detect repository at %s: no repository configured", dir)
	}
	return slug, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// numberFromURL pulls the PR number off a .../pull/N URL, 0 if unparseable.
func numberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
