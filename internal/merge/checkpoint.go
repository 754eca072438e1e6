package merge

import (
	"fmt"

	"github.com/drydocklabs/drydock/internal/git"
)

// checkpoint is a lightweight tag at the base branch tip taken before a
// merge attempt, so a failed attempt can be reset away cleanly.
type checkpoint struct {
	git git.Runner
	tag string
	sha string
}

func (e *Engine) createCheckpoint(taskID string) (*checkpoint, error) {
	sha, err := e.git.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("get HEAD sha: %w", err)
	}

	tag := fmt.Sprintf("drydock-premerge-%s", taskID)
	// A crashed run may have left the tag behind; recreate it
	_, _ = e.git.Run("tag", "-d", tag)
	if _, err := e.git.Run("tag", tag, sha); err != nil {
		return nil, fmt.Errorf("create premerge tag: %w", err)
	}

	return &checkpoint{git: e.git, tag: tag, sha: sha}, nil
}

// rollback hard-resets the checked-out base branch to the premerge tip.
func (c *checkpoint) rollback() {
	_, _ = c.git.Run("reset", "--hard", c.sha)
}

// release deletes the premerge tag. Safe to call after rollback.
func (c *checkpoint) release() {
	_, _ = c.git.Run("tag", "-d", c.tag)
}
