// Package githost talks to the issue/PR host. The shipped implementation
// wraps the gh CLI; the interface keeps the rest of the system independent
// of it.
package githost

import (
	"context"
	"errors"
)

// ErrPRExists reports that an open pull request already exists for the
// branch. Callers treat this as idempotent success, not failure.
var ErrPRExists = errors.New("pull request already exists")

// PullRequest describes an open pull request on the host.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// Host is the narrow PR/branch surface the pipeline needs.
type Host interface {
	// CreatePullRequest opens a PR for branch against base. Returns
	// ErrPRExists (wrapped) when the host already has one open.
	CreatePullRequest(ctx context.Context, repo, branch, base, title, body string) (*PullRequest, error)

	// FindPullRequest returns the open PR for branch, or nil when there is
	// none.
	FindPullRequest(ctx context.Context, repo, branch string) (*PullRequest, error)

	// ListBranches returns the branch names on the remote repository.
	ListBranches(ctx context.Context, repo string) ([]string, error)

	// DetectRepo reports the "owner/name" slug for the repository checked
	// out at dir.
	DetectRepo(ctx context.Context, dir string) (string, error)
}
