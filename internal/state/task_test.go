package state

import (
	"errors"
	"testing"
	"time"

	"github.com/drydocklabs/drydock/pkg/models"
)

// newTestTask builds a task with two subtasks for insertion tests.
func newTestTask(id string) *models.Task {
	return &models.Task{
		ID:     id,
		SpecID: "spec-1",
		Title:  "Add login page",
		Status: models.TaskStatusBacklog,
		Subtasks: []models.Subtask{
			{ID: id + "-st1", TaskID: id, Ordinal: 0, Title: "Build form", Status: models.SubtaskStatusPending},
			{ID: id + "-st2", TaskID: id, Ordinal: 1, Title: "Wire backend", Status: models.SubtaskStatusPending},
		},
	}
}

func TestCreateAndGetTask(t *testing.T) {
	db := setupTestDB(t)

	task := newTestTask("task-1")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}

	if got.ID != "task-1" {
		t.Errorf("ID = %q, want %q", got.ID, "task-1")
	}
	if got.Title != "Add login page" {
		t.Errorf("Title = %q, want %q", got.Title, "Add login page")
	}
	if got.Status != models.TaskStatusBacklog {
		t.Errorf("Status = %q, want %q", got.Status, models.TaskStatusBacklog)
	}
	if got.SpecID != "spec-1" {
		t.Errorf("SpecID = %q, want %q", got.SpecID, "spec-1")
	}
	if len(got.Subtasks) != 2 {
		t.Fatalf("len(Subtasks) = %d, want 2", len(got.Subtasks))
	}
	if got.Subtasks[0].Title != "Build form" || got.Subtasks[1].Title != "Wire backend" {
		t.Errorf("subtasks out of order: %q, %q", got.Subtasks[0].Title, got.Subtasks[1].Title)
	}
	if got.Progress != nil {
		t.Errorf("Progress = %+v, want nil before any snapshot", got.Progress)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetTask("nonexistent")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask error = %v, want ErrTaskNotFound", err)
	}
}

func TestCreateTask_DefaultsStatus(t *testing.T) {
	db := setupTestDB(t)

	task := &models.Task{ID: "task-1", Title: "Untitled work"}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusBacklog {
		t.Errorf("Status = %q, want %q", got.Status, models.TaskStatusBacklog)
	}
}

func TestListTasks(t *testing.T) {
	db := setupTestDB(t)

	for _, id := range []string{"task-1", "task-2", "task-3"} {
		if err := db.CreateTask(newTestTask(id)); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", id, err)
		}
	}
	if err := db.SetTaskStatus("task-2", models.TaskStatusInProgress); err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}

	all, err := db.ListTasks("")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	backlog, err := db.ListTasks(models.TaskStatusBacklog)
	if err != nil {
		t.Fatalf("ListTasks(backlog) failed: %v", err)
	}
	if len(backlog) != 2 {
		t.Errorf("len(backlog) = %d, want 2", len(backlog))
	}

	running, err := db.ListTasks(models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("ListTasks(in_progress) failed: %v", err)
	}
	if len(running) != 1 || running[0].ID != "task-2" {
		t.Errorf("in_progress tasks = %v, want [task-2]", running)
	}
}

func TestListActiveTasks(t *testing.T) {
	db := setupTestDB(t)

	statuses := map[string]models.TaskStatus{
		"task-1": models.TaskStatusBacklog,
		"task-2": models.TaskStatusInProgress,
		"task-3": models.TaskStatusAIReview,
		"task-4": models.TaskStatusQAFixing,
		"task-5": models.TaskStatusDone,
	}
	for id, status := range statuses {
		task := newTestTask(id)
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", id, err)
		}
		if err := db.SetTaskStatus(id, status); err != nil {
			t.Fatalf("SetTaskStatus(%s) failed: %v", id, err)
		}
	}

	active, err := db.ListActiveTasks()
	if err != nil {
		t.Fatalf("ListActiveTasks failed: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("len(active) = %d, want 3", len(active))
	}
	for _, task := range active {
		if !task.Status.Active() {
			t.Errorf("task %s has non-active status %s", task.ID, task.Status)
		}
	}
}

func TestSetTaskStatus(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.SetTaskStatus("task-1", models.TaskStatusInProgress); err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, models.TaskStatusInProgress)
	}

	// Missing task
	err = db.SetTaskStatus("nonexistent", models.TaskStatusDone)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("SetTaskStatus error = %v, want ErrTaskNotFound", err)
	}
}

func TestUpdateTaskPID(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.UpdateTaskPID("task-1", 4242); err != nil {
		t.Fatalf("UpdateTaskPID failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.PID != 4242 {
		t.Errorf("PID = %d, want 4242", got.PID)
	}

	// Clear
	if err := db.UpdateTaskPID("task-1", 0); err != nil {
		t.Fatalf("UpdateTaskPID(0) failed: %v", err)
	}
	got, _ = db.GetTask("task-1")
	if got.PID != 0 {
		t.Errorf("PID = %d, want 0 after clear", got.PID)
	}
}

func TestSaveProgress(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	eventAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	progress := &models.ExecutionProgress{
		Phase:           models.PhaseCoding,
		OverallProgress: 45,
		Message:         "Implementing form validation",
		CurrentSubtask:  "Build form",
		LastEventAt:     eventAt,
	}
	if err := db.SaveProgress("task-1", progress); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Progress == nil {
		t.Fatal("Progress is nil after SaveProgress")
	}
	if got.Progress.Phase != models.PhaseCoding {
		t.Errorf("Phase = %q, want %q", got.Progress.Phase, models.PhaseCoding)
	}
	if got.Progress.OverallProgress != 45 {
		t.Errorf("OverallProgress = %d, want 45", got.Progress.OverallProgress)
	}
	if got.Progress.CurrentSubtask != "Build form" {
		t.Errorf("CurrentSubtask = %q, want %q", got.Progress.CurrentSubtask, "Build form")
	}
	if !got.Progress.LastEventAt.Equal(eventAt) {
		t.Errorf("LastEventAt = %v, want %v", got.Progress.LastEventAt, eventAt)
	}
}

func TestSetTaskMeta(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.SetTaskMeta("task-1", models.MetaPRURL, "https://github.com/acme/app/pull/7"); err != nil {
		t.Fatalf("SetTaskMeta failed: %v", err)
	}
	if err := db.SetTaskMeta("task-1", models.MetaStagedAt, "2024-06-01T12:00:00Z"); err != nil {
		t.Fatalf("SetTaskMeta (second key) failed: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Meta(models.MetaPRURL) != "https://github.com/acme/app/pull/7" {
		t.Errorf("pr_url = %q, want the PR link", got.Meta(models.MetaPRURL))
	}
	if got.Meta(models.MetaStagedAt) != "2024-06-01T12:00:00Z" {
		t.Errorf("staged_at = %q, want timestamp", got.Meta(models.MetaStagedAt))
	}

	// Overwrite existing key, other keys survive
	if err := db.SetTaskMeta("task-1", models.MetaPRURL, "https://github.com/acme/app/pull/8"); err != nil {
		t.Fatalf("SetTaskMeta (overwrite) failed: %v", err)
	}
	got, _ = db.GetTask("task-1")
	if got.Meta(models.MetaPRURL) != "https://github.com/acme/app/pull/8" {
		t.Errorf("pr_url = %q after overwrite", got.Meta(models.MetaPRURL))
	}
	if got.Meta(models.MetaStagedAt) != "2024-06-01T12:00:00Z" {
		t.Errorf("staged_at lost on overwrite of another key")
	}

	// Missing task
	err = db.SetTaskMeta("nonexistent", "k", "v")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("SetTaskMeta error = %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteTask_CascadesSubtasksAndWorktree(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	wt := &models.Worktree{
		TaskID:     "task-1",
		Path:       "/tmp/worktrees/task-1",
		Branch:     "drydock/task-1",
		BaseBranch: "main",
	}
	if err := db.SaveWorktree(wt); err != nil {
		t.Fatalf("SaveWorktree failed: %v", err)
	}

	if err := db.DeleteTask("task-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, err := db.GetTask("task-1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask after delete = %v, want ErrTaskNotFound", err)
	}

	subtasks, err := db.GetSubtasks("task-1")
	if err != nil {
		t.Fatalf("GetSubtasks failed: %v", err)
	}
	if len(subtasks) != 0 {
		t.Errorf("len(subtasks) = %d after cascade delete, want 0", len(subtasks))
	}

	got, err := db.GetWorktree("task-1")
	if err != nil {
		t.Fatalf("GetWorktree failed: %v", err)
	}
	if got != nil {
		t.Errorf("worktree record survived cascade delete: %+v", got)
	}
}

func TestUpdateSubtaskStatus(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.UpdateSubtaskStatus("task-1-st1", models.SubtaskStatusCompleted); err != nil {
		t.Fatalf("UpdateSubtaskStatus failed: %v", err)
	}

	subtasks, err := db.GetSubtasks("task-1")
	if err != nil {
		t.Fatalf("GetSubtasks failed: %v", err)
	}
	if subtasks[0].Status != models.SubtaskStatusCompleted {
		t.Errorf("subtask status = %q, want %q", subtasks[0].Status, models.SubtaskStatusCompleted)
	}
	if subtasks[1].Status != models.SubtaskStatusPending {
		t.Errorf("untouched subtask status = %q, want %q", subtasks[1].Status, models.SubtaskStatusPending)
	}
}

func TestSaveWorktree_Upsert(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	wt := &models.Worktree{
		TaskID:     "task-1",
		Path:       "/tmp/worktrees/task-1",
		Branch:     "drydock/task-1",
		BaseBranch: "main",
	}
	if err := db.SaveWorktree(wt); err != nil {
		t.Fatalf("SaveWorktree failed: %v", err)
	}

	// Re-save with a different base branch
	wt.BaseBranch = "develop"
	if err := db.SaveWorktree(wt); err != nil {
		t.Fatalf("SaveWorktree (upsert) failed: %v", err)
	}

	got, err := db.GetWorktree("task-1")
	if err != nil {
		t.Fatalf("GetWorktree failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetWorktree returned nil")
	}
	if got.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want %q", got.BaseBranch, "develop")
	}

	all, err := db.ListWorktrees()
	if err != nil {
		t.Fatalf("ListWorktrees failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("len(worktrees) = %d, want 1 after upsert", len(all))
	}
}

func TestAppendAndListEvents(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateTask(newTestTask("task-1")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	kinds := []string{"created", "started", "stopped"}
	for _, kind := range kinds {
		if err := db.AppendEvent("task-1", kind, "detail for "+kind); err != nil {
			t.Fatalf("AppendEvent(%s) failed: %v", kind, err)
		}
	}

	events, err := db.ListEvents("task-1", 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Errorf("events[%d].Kind = %q, want %q", i, events[i].Kind, kind)
		}
	}

	limited, err := db.ListEvents("task-1", 2)
	if err != nil {
		t.Fatalf("ListEvents(limit) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}
