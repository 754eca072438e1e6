package agent

import (
	"fmt"
	"strings"
)

// PipelinePrompt describes the phase order and the progress protocol the
// agent reports with. The phase names and marker format must match what the
// stream translation parses.
const PipelinePrompt = `## Build Pipeline

Work through the task in phases, in order:

1. planning: read the relevant code and plan your changes
2. coding: implement the subtasks in their listed order
3. qa_review: review your own changes for correctness
4. qa_fixing: fix any issues your review found

## Progress Protocol

Report progress as you work by printing lines of exactly this form:

DRYDOCK_PROGRESS {"phase":"coding","progress":40,"message":"implementing the handler","subtask":"Build form"}

- phase is one of: planning, coding, qa_review, qa_fixing, done
- progress is 0-100 within the current phase
- subtask names the subtask you are working on, when applicable

Print one marker when you enter each phase and whenever you make meaningful
progress. Print a final marker with phase "done" and progress 100 before
finishing.
`

// ScopeGuidancePrompt is injected at task start to prevent scope creep.
const ScopeGuidancePrompt = `## Scope Guidance

Stay focused on this task. If you discover refactoring opportunities or
unrelated bugs, note them in your final summary but do not implement them
in this session.

Do NOT:
- Expand scope with unrelated refactoring
- Fix unrelated bugs you encounter
- Add features the task does not ask for

DO:
- Complete the assigned task and its subtasks
- Commit your work in the worktree as you go
- Note discoveries for future tasks in your summary
`

// BuildPrompt constructs the launch prompt for a task run.
func BuildPrompt(spec LaunchSpec) string {
	var sb strings.Builder

	sb.WriteString("You are working on a task in an isolated git worktree.\n\n")
	sb.WriteString("Task ID: ")
	sb.WriteString(spec.Task.ID)
	sb.WriteString("\n")
	sb.WriteString("Title: ")
	sb.WriteString(spec.Task.Title)
	sb.WriteString("\n")

	if len(spec.Task.Subtasks) > 0 {
		sb.WriteString("\nSubtasks, in execution order:\n")
		for _, st := range spec.Task.Subtasks {
			sb.WriteString(fmt.Sprintf("%d. %s\n", st.Ordinal+1, st.Title))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(PipelinePrompt)
	sb.WriteString("\n")
	sb.WriteString(ScopeGuidancePrompt)
	sb.WriteString("\nWhen finished, provide a summary of what was done.\n")

	return sb.String()
}
