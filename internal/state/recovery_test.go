package state

import (
	"os"
	"testing"

	"github.com/drydocklabs/drydock/pkg/models"
)

func TestNewRecoveryManager(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)
	if rm == nil {
		t.Fatal("NewRecoveryManager returned nil")
	}
	if rm.db != db {
		t.Error("RecoveryManager.db not set correctly")
	}
}

func TestIsProcessAlive(t *testing.T) {
	// Our own process is alive
	if !isProcessAlive(os.Getpid()) {
		t.Error("isProcessAlive(own pid) = false, want true")
	}

	// Zero and negative PIDs are never alive
	if isProcessAlive(0) {
		t.Error("isProcessAlive(0) = true, want false")
	}
	if isProcessAlive(-1) {
		t.Error("isProcessAlive(-1) = true, want false")
	}

	// A PID well beyond pid_max should not exist
	if isProcessAlive(99999999) {
		t.Error("isProcessAlive(99999999) = true, want false")
	}
}

func TestCheckForInterrupted_NoTasks(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil when no tasks, got %+v", interrupted)
	}
}

func TestCheckForInterrupted_InactiveTasksIgnored(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	for id, status := range map[string]models.TaskStatus{
		"task-backlog": models.TaskStatusBacklog,
		"task-review":  models.TaskStatusHumanReview,
		"task-done":    models.TaskStatusDone,
	} {
		task := newTestTask(id)
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if err := db.SetTaskStatus(id, status); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}

	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil for inactive tasks, got %+v", interrupted)
	}
}

func TestCheckForInterrupted_ActiveWithLivePID(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	task := newTestTask("task-live")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.SetTaskStatus("task-live", models.TaskStatusInProgress); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	// Use our own PID so the process is definitely alive
	if err := db.UpdateTaskPID("task-live", os.Getpid()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if interrupted != nil {
		t.Errorf("expected nil for live process, got %+v", interrupted)
	}
}

func TestCheckForInterrupted_ActiveWithDeadPID(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	task := newTestTask("task-dead")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.SetTaskStatus("task-dead", models.TaskStatusQAFixing); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.UpdateTaskPID("task-dead", 99999999); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if len(interrupted) != 1 {
		t.Fatalf("len(interrupted) = %d, want 1", len(interrupted))
	}
	if interrupted[0].Task.ID != "task-dead" {
		t.Errorf("interrupted task = %q, want task-dead", interrupted[0].Task.ID)
	}
	if interrupted[0].PID != 99999999 {
		t.Errorf("interrupted PID = %d, want 99999999", interrupted[0].PID)
	}
}

func TestResetInterrupted(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	task := newTestTask("task-dead")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.SetTaskStatus("task-dead", models.TaskStatusInProgress); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.UpdateTaskPID("task-dead", 99999999); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := rm.ResetInterrupted("task-dead"); err != nil {
		t.Fatalf("ResetInterrupted failed: %v", err)
	}

	got, err := db.GetTask("task-dead")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusBacklog {
		t.Errorf("Status = %q, want %q", got.Status, models.TaskStatusBacklog)
	}
	if got.PID != 0 {
		t.Errorf("PID = %d, want 0 after reset", got.PID)
	}
	if got.Meta(models.MetaRecoveredAt) == "" {
		t.Error("recovered_at metadata not set")
	}

	events, err := db.ListEvents("task-dead", 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Kind != EventRecover {
		t.Errorf("expected trailing recover event, got %+v", events)
	}
}

func TestResetInterrupted_RefusesLiveProcess(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	task := newTestTask("task-live")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.SetTaskStatus("task-live", models.TaskStatusInProgress); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := db.UpdateTaskPID("task-live", os.Getpid()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := rm.ResetInterrupted("task-live"); err == nil {
		t.Error("expected error resetting task with live process")
	}
}

func TestResetInterrupted_RefusesInactiveTask(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	task := newTestTask("task-idle")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := rm.ResetInterrupted("task-idle"); err == nil {
		t.Error("expected error resetting backlog task")
	}
}

func TestResetAllInterrupted(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	for _, id := range []string{"task-a", "task-b"} {
		task := newTestTask(id)
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if err := db.SetTaskStatus(id, models.TaskStatusInProgress); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if err := db.UpdateTaskPID(id, 99999999); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}

	reset, err := rm.ResetAllInterrupted()
	if err != nil {
		t.Fatalf("ResetAllInterrupted failed: %v", err)
	}
	if len(reset) != 2 {
		t.Errorf("len(reset) = %d, want 2", len(reset))
	}

	for _, id := range []string{"task-a", "task-b"} {
		got, err := db.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask(%s) failed: %v", id, err)
		}
		if got.Status != models.TaskStatusBacklog {
			t.Errorf("task %s status = %q, want backlog", id, got.Status)
		}
	}
}
