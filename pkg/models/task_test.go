package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"backlog is valid", TaskStatusBacklog, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"ai_review is valid", TaskStatusAIReview, true},
		{"qa_fixing is valid", TaskStatusQAFixing, true},
		{"human_review is valid", TaskStatusHumanReview, true},
		{"pr_created is valid", TaskStatusPRCreated, true},
		{"done is valid", TaskStatusDone, true},
		{"deleted_partial is valid", TaskStatusDeletedPartial, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"typo status is invalid", TaskStatus("backlogg"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"backlog to in_progress", TaskStatusBacklog, TaskStatusInProgress, true},
		{"backlog to done", TaskStatusBacklog, TaskStatusDone, false},
		{"in_progress to ai_review", TaskStatusInProgress, TaskStatusAIReview, true},
		{"in_progress to qa_fixing", TaskStatusInProgress, TaskStatusQAFixing, true},
		{"in_progress to human_review", TaskStatusInProgress, TaskStatusHumanReview, true},
		{"in_progress to done shortcut", TaskStatusInProgress, TaskStatusDone, true},
		{"in_progress back to backlog on stop", TaskStatusInProgress, TaskStatusBacklog, true},
		{"in_progress to pr_created", TaskStatusInProgress, TaskStatusPRCreated, false},
		{"ai_review to qa_fixing", TaskStatusAIReview, TaskStatusQAFixing, true},
		{"qa_fixing back to ai_review", TaskStatusQAFixing, TaskStatusAIReview, true},
		{"human_review to pr_created", TaskStatusHumanReview, TaskStatusPRCreated, true},
		{"human_review to done", TaskStatusHumanReview, TaskStatusDone, true},
		{"human_review restart", TaskStatusHumanReview, TaskStatusInProgress, true},
		{"pr_created to done", TaskStatusPRCreated, TaskStatusDone, true},
		{"pr_created back to backlog", TaskStatusPRCreated, TaskStatusBacklog, false},
		{"done is terminal", TaskStatusDone, TaskStatusBacklog, false},
		{"deleted_partial is terminal", TaskStatusDeletedPartial, TaskStatusBacklog, false},
		{"nothing transitions to deleted_partial", TaskStatusInProgress, TaskStatusDeletedPartial, false},
		{"invalid target", TaskStatusBacklog, TaskStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%q.CanTransition(%q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Active(t *testing.T) {
	active := []TaskStatus{TaskStatusInProgress, TaskStatusAIReview, TaskStatusQAFixing}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("%q.Active() = false, want true", s)
		}
	}
	inactive := []TaskStatus{TaskStatusBacklog, TaskStatusHumanReview, TaskStatusPRCreated, TaskStatusDone, TaskStatusDeletedPartial}
	for _, s := range inactive {
		if s.Active() {
			t.Errorf("%q.Active() = true, want false", s)
		}
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if !TaskStatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	if !TaskStatusDeletedPartial.Terminal() {
		t.Error("deleted_partial should be terminal")
	}
	if TaskStatusPRCreated.Terminal() {
		t.Error("pr_created should not be terminal")
	}
}

func TestSubtaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status SubtaskStatus
		want   bool
	}{
		{"pending is valid", SubtaskPending, true},
		{"in_progress is valid", SubtaskInProgress, true},
		{"completed is valid", SubtaskCompleted, true},
		{"failed is valid", SubtaskFailed, true},
		{"empty string is invalid", SubtaskStatus(""), false},
		{"unknown is invalid", SubtaskStatus("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("SubtaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTask_Meta(t *testing.T) {
	task := Task{}

	if got := task.Meta(MetaPRURL); got != "" {
		t.Errorf("Meta on empty map = %q, want empty", got)
	}

	task.SetMeta(MetaPRURL, "https://github.com/acme/widgets/pull/7")
	if got := task.Meta(MetaPRURL); got != "https://github.com/acme/widgets/pull/7" {
		t.Errorf("Meta(%q) = %q, want the PR URL", MetaPRURL, got)
	}

	task.SetMeta(MetaForcedStop, "true")
	if len(task.Metadata) != 2 {
		t.Errorf("metadata length = %d, want 2", len(task.Metadata))
	}
}

func TestPhase_Valid(t *testing.T) {
	tests := []struct {
		name  string
		phase Phase
		want  bool
	}{
		{"planning is valid", PhasePlanning, true},
		{"coding is valid", PhaseCoding, true},
		{"qa_review is valid", PhaseQAReview, true},
		{"qa_fixing is valid", PhaseQAFixing, true},
		{"done is valid", PhaseDone, true},
		{"empty string is invalid", Phase(""), false},
		{"unknown phase is invalid", Phase("deploying"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.phase.Valid(); got != tt.want {
				t.Errorf("Phase(%q).Valid() = %v, want %v", tt.phase, got, tt.want)
			}
		})
	}
}
