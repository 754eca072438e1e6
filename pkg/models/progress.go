package models

import "time"

// Phase represents the execution phase an agent reports while building.
type Phase string

const (
	// PhasePlanning indicates the agent is reading the task and planning.
	PhasePlanning Phase = "planning"
	// PhaseCoding indicates the agent is writing code.
	PhaseCoding Phase = "coding"
	// PhaseQAReview indicates the agent is reviewing its own changes.
	PhaseQAReview Phase = "qa_review"
	// PhaseQAFixing indicates the agent is fixing issues found in review.
	PhaseQAFixing Phase = "qa_fixing"
	// PhaseDone indicates the agent finished its pipeline.
	PhaseDone Phase = "done"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseCoding, PhaseQAReview, PhaseQAFixing, PhaseDone:
		return true
	default:
		return false
	}
}

// ExecutionProgress is the normalized progress of one task run.
//
// OverallProgress is derived from the phase weight bands (planning 20%,
// coding 60%, qa 15%, completion 5%) so progress bars are comparable across
// tasks. It never decreases within a run.
type ExecutionProgress struct {
	// Phase is the phase the agent most recently reported.
	Phase Phase `json:"phase"`
	// OverallProgress is the 0-100 weighted progress value.
	OverallProgress int `json:"overall_progress"`
	// Message is the agent's most recent human-readable status line.
	Message string `json:"message,omitempty"`
	// CurrentSubtask names the subtask being worked on, if known.
	CurrentSubtask string `json:"current_subtask,omitempty"`
	// LastEventAt is when the last progress event arrived.
	LastEventAt time.Time `json:"last_event_at"`
}
