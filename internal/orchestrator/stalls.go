package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/drydocklabs/drydock/internal/progress"
	"github.com/drydocklabs/drydock/pkg/models"
)

// stallPollInterval is how often running tasks are checked for stalls.
const stallPollInterval = 10 * time.Second

// WatchStalls periodically sweeps running tasks through the stall detector
// until ctx is done. Detection is advisory: a flagged task gets a stuck_since
// marker and a task_stuck event, never a status change. The flag gates
// Recover and force-Delete.
func (m *Machine) WatchStalls(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(stallPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepStalls(m.now())
		}
	}
}

// sweepStalls flags every running task the detector reports stalled. A task
// is flagged once per stall; the flag clears when progress resumes or the
// task is recovered.
func (m *Machine) sweepStalls(now time.Time) {
	for _, r := range m.runningSnapshot() {
		taskID := r.task.ID
		if !m.progress.IsStalled(taskID, now) {
			continue
		}
		if !m.markStuck(taskID) {
			continue
		}

		if err := m.store.SetTaskMeta(taskID, models.MetaStuckSince, now.UTC().Format(time.RFC3339)); err != nil {
			m.logger.Log("task %s: record stuck marker: %v", taskID, err)
		}
		m.logger.Log("task %s stalled: no progress for over %s", taskID, progress.StallTimeout)
		m.emit(OrchestratorEvent{
			Type:      EventTaskStuck,
			TaskID:    taskID,
			TaskTitle: r.task.Title,
			Message:   fmt.Sprintf("no progress for over %s", progress.StallTimeout),
			Timestamp: now,
		})
	}
}
