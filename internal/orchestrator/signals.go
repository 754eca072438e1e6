package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// stopSignalSuffix is the filename suffix of stop signal files.
const stopSignalSuffix = ".stop"

// signalPollInterval is how often the signal directory is swept. The sweep
// backs up fsnotify on filesystems that miss events, and is the sole
// mechanism when no watcher can be created.
const signalPollInterval = 2 * time.Second

// SignalDir returns the directory watched for signal files.
func SignalDir(repoPath string) string {
	return filepath.Join(repoPath, ".drydock", "signals")
}

// StopSignalPath returns the signal file that requests a stop of taskID.
func StopSignalPath(repoPath, taskID string) string {
	return filepath.Join(SignalDir(repoPath), taskID+stopSignalSuffix)
}

// WriteStopSignal asks the drydock process supervising taskID to stop it.
// Used by other processes (and automation) that cannot reach the Machine
// directly; the watcher picks the file up and runs the cooperative stop path.
func WriteStopSignal(repoPath, taskID string) error {
	dir := SignalDir(repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal directory: %w", err)
	}
	body := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(StopSignalPath(repoPath, taskID), []byte(body), 0644); err != nil {
		return fmt.Errorf("write stop signal: %w", err)
	}
	return nil
}

// WatchSignals watches the repo's signal directory until ctx is done. A
// `<taskID>.stop` file triggers the same cooperative stop path as Stop; the
// file is removed once observed. Prefers fsnotify and degrades to polling
// when no watcher is available.
func (m *Machine) WatchSignals(ctx context.Context) error {
	dir := SignalDir(m.repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal directory: %w", err)
	}

	m.wg.Add(1)
	defer m.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Log("signal watcher unavailable (%v); polling %s", err, dir)
		m.pollSignals(ctx, dir)
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		m.logger.Log("watch %s failed (%v); polling instead", dir, err)
		m.pollSignals(ctx, dir)
		return nil
	}

	// Catch signals written before the watch was established.
	m.sweepSignals(ctx, dir)

	ticker := time.NewTicker(signalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				m.handleSignal(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Log("signal watcher error: %v", err)
		case <-ticker.C:
			m.sweepSignals(ctx, dir)
		}
	}
}

// pollSignals sweeps the signal directory on a fixed interval until ctx is
// done.
func (m *Machine) pollSignals(ctx context.Context, dir string) {
	ticker := time.NewTicker(signalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepSignals(ctx, dir)
		}
	}
}

// sweepSignals handles every signal file currently in the directory.
func (m *Machine) sweepSignals(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Log("read signal directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m.handleSignal(ctx, filepath.Join(dir, entry.Name()))
	}
}

// handleSignal clears one signal file and acts on it. The file is removed
// before the stop runs so a failing stop can't loop the watcher.
func (m *Machine) handleSignal(ctx context.Context, path string) {
	name := filepath.Base(path)
	taskID := strings.TrimSuffix(name, stopSignalSuffix)
	if taskID == name || taskID == "" {
		return
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			// Another sweep got here first.
			return
		}
		m.logger.Log("clear stop signal %s: %v", path, err)
	}

	m.logger.Log("stop signal received for task %s", taskID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.Stop(ctx, taskID); err != nil {
			debugLog("stop signal for task %s: %v", taskID, err)
		}
	}()
}
