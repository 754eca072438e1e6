// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Output executes a command and returns stdout only. Stderr is folded
	// into the returned error on failure. Use this when stdout must be
	// parsed (JSON from gh, porcelain formats). The working directory is
	// set to workDir if non-empty.
	Output(ctx context.Context, workDir string, name string, args ...string) (stdout []byte, err error)
}
