// Package agent launches and supervises the AI coding processes that build
// tasks inside their worktrees.
package agent

import (
	"context"

	"github.com/drydocklabs/drydock/pkg/models"
)

// Event is one progress report from a running agent. Events for a single
// process arrive in the order the agent emitted them. The final event on the
// stream has Terminal set; no further events follow it.
type Event struct {
	// Phase is the pipeline phase the agent reported. Empty on heartbeat
	// events that only carry a message.
	Phase models.Phase `json:"phase,omitempty"`
	// SubProgress is the agent's 0-100 progress within the phase.
	SubProgress int `json:"sub_progress,omitempty"`
	// Message is a short human-readable status line.
	Message string `json:"message,omitempty"`
	// CurrentSubtask names the subtask being worked on, when known.
	CurrentSubtask string `json:"current_subtask,omitempty"`
	// Terminal marks the last event of the stream.
	Terminal bool `json:"terminal,omitempty"`
	// Success reports the run outcome on terminal events.
	Success bool `json:"success,omitempty"`
	// Err carries failure detail on terminal events.
	Err string `json:"err,omitempty"`
}

// LaunchSpec describes one agent run.
type LaunchSpec struct {
	// WorkDir is the worktree (or project) directory the agent works in.
	WorkDir string
	// Task is the task being built. Its subtasks define the execution order.
	Task *models.Task
	// Model overrides the default model when set.
	Model string
}

// Process is a handle to one running agent.
// This abstraction allows for testing and alternative implementations.
type Process interface {
	// Events returns the ordered event stream. The channel is closed after
	// the terminal event is delivered.
	Events() <-chan Event

	// Cancel requests a cooperative stop. The process gets a chance to wind
	// down; callers escalate to Kill after a grace period.
	Cancel() error

	// Kill terminates the process immediately.
	Kill() error

	// PID returns the operating system process ID, or 0 when there is none.
	PID() int

	// Done is closed once the process has fully exited and the terminal
	// event has been emitted.
	Done() <-chan struct{}
}

// Launcher starts agent processes. Implementations: CLILauncher (claude CLI
// subprocess) and api.Launcher (direct Anthropic API).
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
