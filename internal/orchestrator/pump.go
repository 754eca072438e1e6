package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drydocklabs/drydock/internal/agent"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/pkg/models"
)

// pump consumes one agent's event stream until it closes. Progress events
// update the aggregator, subtask state and status refinements; the terminal
// event decides the task's landing status. The stream contract guarantees the
// terminal event is last.
func (m *Machine) pump(r *running) {
	defer m.wg.Done()
	defer close(r.pumpDone)
	defer m.unregister(r.task.ID)

	for ev := range r.proc.Events() {
		if ev.Terminal {
			m.finishRun(r, ev)
			continue
		}
		m.applyProgress(r, ev)
	}
}

// applyProgress folds one progress event into the task's state.
func (m *Machine) applyProgress(r *running, ev agent.Event) {
	taskID := r.task.ID

	snap, err := m.progress.Record(taskID, ev.Phase, ev.SubProgress, ev.Message, ev.CurrentSubtask)
	if err != nil {
		m.logger.Log("task %s: %v", taskID, err)
	}

	m.advanceSubtasks(r, ev.CurrentSubtask)
	m.refineStatus(r, ev.Phase)

	if m.clearStuckMark(taskID) {
		if err := m.store.SetTaskMeta(taskID, models.MetaStuckSince, ""); err != nil {
			m.logger.Log("task %s: clear stuck marker: %v", taskID, err)
		}
		m.logger.Log("task %s resumed after stall", taskID)
	}

	// Audit phase boundaries, not every heartbeat.
	if snap.Phase != r.lastPhase {
		_ = m.store.AppendEvent(taskID, state.EventProgress, fmt.Sprintf("entered %s (%d%%)", snap.Phase, snap.OverallProgress))
		r.lastPhase = snap.Phase
	}

	m.emit(OrchestratorEvent{
		Type:      EventProgress,
		TaskID:    taskID,
		TaskTitle: r.task.Title,
		Phase:     snap.Phase,
		Progress:  snap.OverallProgress,
		Message:   ev.Message,
	})
}

// refineStatus maps qa phases onto the matching lifecycle status. Other
// phases leave the status alone.
func (m *Machine) refineStatus(r *running, phase models.Phase) {
	var next models.TaskStatus
	switch phase {
	case models.PhaseQAReview:
		next = models.TaskStatusAIReview
	case models.PhaseQAFixing:
		next = models.TaskStatusQAFixing
	default:
		return
	}
	if r.status == next || !r.status.CanTransition(next) {
		return
	}

	taskID := r.task.ID
	if err := m.store.SetTaskStatus(taskID, next); err != nil {
		m.logger.Log("task %s: refine status to %s: %v", taskID, next, err)
		return
	}
	_ = m.store.AppendEvent(taskID, state.EventStatusChange, fmt.Sprintf("%s -> %s", r.status, next))
	r.status = next
}

// advanceSubtasks moves subtask state along when the agent names the subtask
// it is working on. Matching is by title; everything with a lower ordinal is
// completed, the named one moves to in_progress. An unmatched name only shows
// up in the progress message.
func (m *Machine) advanceSubtasks(r *running, current string) {
	if current == "" {
		return
	}

	idx := -1
	for i := range r.task.Subtasks {
		if strings.EqualFold(r.task.Subtasks[i].Title, current) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	for i := 0; i < idx; i++ {
		st := &r.task.Subtasks[i]
		if st.Status == models.SubtaskCompleted {
			continue
		}
		if err := m.store.UpdateSubtaskStatus(st.ID, models.SubtaskCompleted); err != nil {
			m.logger.Log("task %s: complete subtask %s: %v", r.task.ID, st.ID, err)
			continue
		}
		st.Status = models.SubtaskCompleted
	}

	st := &r.task.Subtasks[idx]
	if st.Status == models.SubtaskPending {
		if err := m.store.UpdateSubtaskStatus(st.ID, models.SubtaskInProgress); err != nil {
			m.logger.Log("task %s: start subtask %s: %v", r.task.ID, st.ID, err)
			return
		}
		st.Status = models.SubtaskInProgress
	}
}

// finishRun handles the terminal event of an agent run. When a stop, recover
// or delete is in flight the caller of Cancel/Kill owns the outcome and the
// pump stays out of it.
func (m *Machine) finishRun(r *running, ev agent.Event) {
	taskID := r.task.ID

	if r.stopping.Load() {
		m.logger.Log("task %s: agent run ended during stop", taskID)
		return
	}

	if err := m.store.UpdateTaskPID(taskID, 0); err != nil {
		m.logger.Log("task %s: clear agent pid: %v", taskID, err)
	}

	if !ev.Success {
		_ = m.store.AppendEvent(taskID, state.EventError, ev.Err)
		if r.status.CanTransition(models.TaskStatusBacklog) {
			if err := m.store.SetTaskStatus(taskID, models.TaskStatusBacklog); err != nil {
				m.logger.Log("task %s: return to backlog after failure: %v", taskID, err)
			} else {
				_ = m.store.AppendEvent(taskID, state.EventStatusChange, fmt.Sprintf("%s -> %s (agent failed)", r.status, models.TaskStatusBacklog))
			}
		}
		r.finished.Store(true)
		m.logger.Log("task %s failed: %s", taskID, ev.Err)
		var runErr error
		if ev.Err != "" {
			runErr = errors.New(ev.Err)
		}
		m.emit(OrchestratorEvent{
			Type:      EventTaskFailed,
			TaskID:    taskID,
			TaskTitle: r.task.Title,
			Message:   ev.Message,
			Error:     runErr,
		})
		return
	}

	snap, err := m.progress.Record(taskID, models.PhaseDone, 100, ev.Message, "")
	if err != nil {
		m.logger.Log("task %s: %v", taskID, err)
	}
	m.completeRemainingSubtasks(r)

	// A finished task normally waits for a human. Without a worktree the
	// changes were staged directly, so there is nothing left to merge and the
	// task is done.
	next := models.TaskStatusHumanReview
	wt, err := m.store.GetWorktree(taskID)
	if err != nil {
		m.logger.Log("task %s: look up worktree: %v", taskID, err)
	} else if wt == nil {
		next = models.TaskStatusDone
	}

	if r.status.CanTransition(next) {
		if err := m.store.SetTaskStatus(taskID, next); err != nil {
			m.logger.Log("task %s: transition to %s: %v", taskID, next, err)
		} else {
			_ = m.store.AppendEvent(taskID, state.EventStatusChange, fmt.Sprintf("%s -> %s (agent finished)", r.status, next))
		}
	}

	r.finished.Store(true)
	m.logger.Log("task %s completed: %s", taskID, ev.Message)
	m.emit(OrchestratorEvent{
		Type:      EventTaskCompleted,
		TaskID:    taskID,
		TaskTitle: r.task.Title,
		Phase:     snap.Phase,
		Progress:  snap.OverallProgress,
		Message:   ev.Message,
	})
}

// completeRemainingSubtasks marks every unfinished subtask completed after a
// successful run.
func (m *Machine) completeRemainingSubtasks(r *running) {
	for i := range r.task.Subtasks {
		st := &r.task.Subtasks[i]
		if st.Status == models.SubtaskCompleted {
			continue
		}
		if err := m.store.UpdateSubtaskStatus(st.ID, models.SubtaskCompleted); err != nil {
			m.logger.Log("task %s: complete subtask %s: %v", r.task.ID, st.ID, err)
			continue
		}
		st.Status = models.SubtaskCompleted
	}
}
