package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drydocklabs/drydock/internal/agent"
	"github.com/drydocklabs/drydock/pkg/models"
)

func TestStopSignalPath(t *testing.T) {
	got := StopSignalPath("/repo", "task-1")
	want := filepath.Join("/repo", ".drydock", "signals", "task-1.stop")
	if got != want {
		t.Errorf("StopSignalPath = %q, want %q", got, want)
	}
}

func TestWriteStopSignal_CreatesTimestampedFile(t *testing.T) {
	repo := t.TempDir()

	if err := WriteStopSignal(repo, "task-1"); err != nil {
		t.Fatalf("WriteStopSignal failed: %v", err)
	}

	data, err := os.ReadFile(StopSignalPath(repo, "task-1"))
	if err != nil {
		t.Fatalf("read signal file: %v", err)
	}
	stamp := strings.TrimSpace(string(data))
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("signal content = %q, want RFC3339 timestamp", stamp)
	}
}

func TestWatchSignals_StopsRunningTask(t *testing.T) {
	fx := newTestMachine(t)
	seedTask(fx.store, "task-1", models.TaskStatusBacklog)
	proc := newFakeProcess(100)
	proc.endOnCancel = &agent.Event{Success: false, Err: "agent canceled"}
	fx.launcher.procs = []*fakeProcess{proc}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := fx.m.WatchSignals(ctx); err != nil {
			t.Errorf("WatchSignals failed: %v", err)
		}
	}()

	if _, err := fx.m.Start(context.Background(), "task-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := WriteStopSignal(fx.m.repoPath, "task-1"); err != nil {
		t.Fatalf("WriteStopSignal failed: %v", err)
	}

	waitFor(t, "task stopped via signal file", func() bool {
		return !fx.m.Running("task-1") && fx.store.taskStatus("task-1") == models.TaskStatusBacklog
	})
	if _, err := os.Stat(StopSignalPath(fx.m.repoPath, "task-1")); !os.IsNotExist(err) {
		t.Errorf("signal file still present after handling (stat err = %v)", err)
	}
}

func TestWatchSignals_LeavesOtherFilesAlone(t *testing.T) {
	fx := newTestMachine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fx.m.WatchSignals(ctx) }()

	dir := SignalDir(fx.m.repoPath)
	waitFor(t, "signal directory created", func() bool {
		info, err := os.Stat(dir)
		return err == nil && info.IsDir()
	})

	note := filepath.Join(dir, "README.txt")
	if err := os.WriteFile(note, []byte("not a signal"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	// Let the watcher observe the write before checking.
	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(note); err != nil {
		t.Errorf("non-signal file removed: %v", err)
	}
}

func TestWatchSignals_HandlesSignalsWrittenBeforeWatch(t *testing.T) {
	fx := newTestMachine(t)
	seedTask(fx.store, "task-1", models.TaskStatusBacklog)
	proc := newFakeProcess(100)
	proc.endOnCancel = &agent.Event{Success: false, Err: "agent canceled"}
	fx.launcher.procs = []*fakeProcess{proc}

	if _, err := fx.m.Start(context.Background(), "task-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := WriteStopSignal(fx.m.repoPath, "task-1"); err != nil {
		t.Fatalf("WriteStopSignal failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fx.m.WatchSignals(ctx) }()

	waitFor(t, "pre-existing signal handled", func() bool {
		return !fx.m.Running("task-1") && fx.store.taskStatus("task-1") == models.TaskStatusBacklog
	})
}
