package state

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// isProcessAlive checks if a process with the given PID is running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so send signal 0 to check
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// InterruptedTask describes a task left in an active state by a dead process.
type InterruptedTask struct {
	Task *models.Task
	PID  int
}

// RecoveryManager finds and repairs tasks orphaned by crashed runs.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a recovery manager.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted returns tasks in an active state whose recorded
// process is no longer alive.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedTask, error) {
	active, err := rm.db.ListActiveTasks()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}

	var interrupted []InterruptedTask
	for _, task := range active {
		if isProcessAlive(task.PID) {
			continue
		}
		interrupted = append(interrupted, InterruptedTask{Task: task, PID: task.PID})
	}
	return interrupted, nil
}

// ResetInterrupted returns an interrupted task to the backlog so it can be
// restarted. The dead PID is cleared and a recovery breadcrumb recorded.
func (rm *RecoveryManager) ResetInterrupted(taskID string) error {
	task, err := rm.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if !task.Status.Active() {
		return fmt.Errorf("task %s is %s, not active", taskID, task.Status)
	}
	if isProcessAlive(task.PID) {
		return fmt.Errorf("task %s process %d is still running", taskID, task.PID)
	}

	if err := rm.db.SetTaskStatus(taskID, models.TaskStatusBacklog); err != nil {
		return err
	}
	if err := rm.db.UpdateTaskPID(taskID, 0); err != nil {
		return err
	}
	if err := rm.db.SetTaskMeta(taskID, models.MetaRecoveredAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := rm.db.AppendEvent(taskID, EventRecover, fmt.Sprintf("reset from %s after process %d died", task.Status, task.PID)); err != nil {
		return err
	}
	return nil
}

// ResetAllInterrupted resets every interrupted task found.
// Returns the IDs of the tasks that were reset.
func (rm *RecoveryManager) ResetAllInterrupted() ([]string, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return nil, err
	}

	var reset []string
	for _, it := range interrupted {
		if err := rm.ResetInterrupted(it.Task.ID); err != nil {
			return reset, fmt.Errorf("reset task %s: %w", it.Task.ID, err)
		}
		reset = append(reset, it.Task.ID)
	}
	return reset, nil
}
