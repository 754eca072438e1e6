// Package progress normalizes agent phase events into a single 0-100
// progress value per task and detects stalled runs.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// StallTimeout is how long a running task may go without a progress event
// before IsStalled reports it. One fixed constant for every task, so stuck
// detection behaves the same across the whole fleet.
const StallTimeout = 60 * time.Second

// phaseBand returns the slice of the 0-100 scale owned by a phase:
// planning 20%, coding 60%, qa 15%, completion 5%. The mapping is fixed so
// progress bars are comparable across tasks.
func phaseBand(phase models.Phase) (lo, hi int) {
	switch phase {
	case models.PhasePlanning:
		return 0, 20
	case models.PhaseCoding:
		return 20, 80
	case models.PhaseQAReview, models.PhaseQAFixing:
		return 80, 95
	case models.PhaseDone:
		return 95, 100
	default:
		return 0, 20
	}
}

// Sink receives each progress snapshot for persistence. *state.DB satisfies
// it.
type Sink interface {
	SaveProgress(taskID string, p *models.ExecutionProgress) error
}

// StatusFunc resolves a task's current lifecycle status. Stall detection
// only applies while a task is in_progress.
type StatusFunc func(taskID string) models.TaskStatus

// Aggregator converts per-phase progress events into a weighted overall
// value, one monotonic window per run. Events for a single task must be
// delivered in arrival order; different tasks may record concurrently.
type Aggregator struct {
	// sink persists each snapshot, if set.
	sink Sink
	// status resolves lifecycle status for stall detection, if set.
	status StatusFunc
	// runs holds the live snapshot per task.
	runs map[string]*models.ExecutionProgress
	// mu protects runs.
	mu sync.RWMutex
}

// New creates an Aggregator. Both dependencies may be nil: without a sink
// snapshots stay in memory only, and without a status source stall detection
// considers every tracked run.
func New(sink Sink, status StatusFunc) *Aggregator {
	return &Aggregator{
		sink:   sink,
		status: status,
		runs:   make(map[string]*models.ExecutionProgress),
	}
}

// Record applies one progress event and returns the updated snapshot.
// subProgress is the agent's 0-100 progress within the reported phase,
// clamped to that range. The overall value never decreases within a run: an
// event that computes a lower value keeps the previous overall while phase,
// message and subtask still update, so noisy agent signals never show as a
// regression. A sink failure is returned but the in-memory snapshot is
// already updated.
func (a *Aggregator) Record(taskID string, phase models.Phase, subProgress int, message, currentSubtask string) (models.ExecutionProgress, error) {
	if subProgress < 0 {
		subProgress = 0
	}
	if subProgress > 100 {
		subProgress = 100
	}

	a.mu.Lock()
	prev := a.runs[taskID]

	if !phase.Valid() {
		// An unknown phase is still a heartbeat. Fold it into the previous
		// phase, or planning on the first event.
		if prev != nil {
			phase = prev.Phase
		} else {
			phase = models.PhasePlanning
		}
	}

	lo, hi := phaseBand(phase)
	overall := lo + subProgress*(hi-lo)/100
	if prev != nil && overall < prev.OverallProgress {
		overall = prev.OverallProgress
	}

	snap := models.ExecutionProgress{
		Phase:           phase,
		OverallProgress: overall,
		Message:         message,
		CurrentSubtask:  currentSubtask,
		LastEventAt:     time.Now(),
	}
	a.runs[taskID] = &snap
	a.mu.Unlock()

	if a.sink != nil {
		if err := a.sink.SaveProgress(taskID, &snap); err != nil {
			return snap, fmt.Errorf("persist progress for task %s: %w", taskID, err)
		}
	}
	return snap, nil
}

// IsStalled reports whether a task has gone longer than StallTimeout without
// a progress event while in_progress. Detection is advisory: callers use it
// to gate recovery, it never changes task state itself. A task with no
// recorded events is never stalled.
func (a *Aggregator) IsStalled(taskID string, now time.Time) bool {
	a.mu.RLock()
	snap, ok := a.runs[taskID]
	a.mu.RUnlock()

	if !ok {
		return false
	}
	if a.status != nil && a.status(taskID) != models.TaskStatusInProgress {
		return false
	}
	return now.Sub(snap.LastEventAt) > StallTimeout
}

// Reset clears a task's run state. The next Record opens a fresh monotonic
// window, so a restarted run may legitimately report lower progress than the
// previous one did.
func (a *Aggregator) Reset(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.runs, taskID)
}

// Restore primes a task's run state from a persisted snapshot, e.g. when
// re-attaching to a recovered task. The monotonic window continues from the
// restored value instead of starting over. The stall clock restarts: the
// restored LastEventAt is replaced with the current time, since the agent
// was just (re)launched.
func (a *Aggregator) Restore(taskID string, p models.ExecutionProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p.LastEventAt = time.Now()
	a.runs[taskID] = &p
}

// Snapshot returns the current progress snapshot for a task, and whether one
// exists.
func (a *Aggregator) Snapshot(taskID string) (models.ExecutionProgress, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap, ok := a.runs[taskID]
	if !ok {
		return models.ExecutionProgress{}, false
	}
	return *snap, true
}
