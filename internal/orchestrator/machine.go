// Package orchestrator drives tasks through the build pipeline: it attaches
// agent processes to tasks, consumes their progress events, and owns every
// lifecycle transition from backlog to done.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drydocklabs/drydock/internal/agent"
	"github.com/drydocklabs/drydock/internal/merge"
	"github.com/drydocklabs/drydock/internal/progress"
	"github.com/drydocklabs/drydock/internal/publish"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/pkg/models"
)

// StopGracePeriod is how long Stop waits for cooperative shutdown before
// escalating to a kill.
const StopGracePeriod = 30 * time.Second

// defaultEventBuffer is the emitter buffer size when Config doesn't set one.
const defaultEventBuffer = 100

var (
	// ErrAlreadyRunning is returned when an operation requires the task to
	// have no attached agent process.
	ErrAlreadyRunning = errors.New("task already has a running agent")
	// ErrNotRunning is returned when an operation requires an attached agent
	// process and the task has none.
	ErrNotRunning = errors.New("task has no running agent")
	// ErrNotStuck is returned by Recover when the stall detector does not
	// report the task stuck.
	ErrNotStuck = errors.New("task is not stuck")
	// ErrDeletedPartial is returned when delete removed the worktree but the
	// task record could not be removed. The task is marked deleted_partial
	// and requires manual reconciliation.
	ErrDeletedPartial = errors.New("worktree removed but task record update failed")
)

// Store is the persistence surface the machine needs. *state.DB satisfies it.
type Store interface {
	GetTask(id string) (*models.Task, error)
	SetTaskStatus(id string, status models.TaskStatus) error
	UpdateTaskPID(id string, pid int) error
	SetTaskMeta(id, key, value string) error
	SaveProgress(id string, p *models.ExecutionProgress) error
	AppendEvent(taskID, kind, detail string) error
	UpdateSubtaskStatus(subtaskID string, status models.SubtaskStatus) error
	GetWorktree(taskID string) (*models.Worktree, error)
	DeleteTask(id string) error
}

// Worktrees is the workspace surface the machine needs. *worktree.Store
// satisfies it.
type Worktrees interface {
	Ensure(ctx context.Context, taskID, baseBranch string) (*models.Worktree, error)
	Discard(ctx context.Context, taskID string, skipStatusChange bool) error
	MergeInto(ctx context.Context, taskID string) (*merge.Result, error)
}

// Publisher finalizes finished tasks. *publish.Coordinator satisfies it.
type Publisher interface {
	CreatePR(ctx context.Context, taskID string, opts publish.PROptions) (*publish.PRResult, error)
	StageIntoProject(ctx context.Context, taskID string) (*merge.Result, error)
}

// Recoverer resets tasks orphaned by a dead process.
// *state.RecoveryManager satisfies it.
type Recoverer interface {
	ResetAllInterrupted() ([]string, error)
}

// Config contains configuration options for the Machine.
type Config struct {
	// RepoPath is the path to the git repository.
	RepoPath string
	// Store is the task/worktree/event persistence layer.
	Store Store
	// Worktrees manages per-task workspaces.
	Worktrees Worktrees
	// Launcher starts agent processes.
	Launcher agent.Launcher
	// Publisher opens pull requests and stages worktree-less changes.
	// If nil, CreatePR and Stage are unavailable.
	Publisher Publisher
	// Recovery resets tasks orphaned by a crashed run.
	// If nil, RecoverInterrupted is a no-op.
	Recovery Recoverer
	// Progress aggregates agent events into overall progress. If nil, an
	// aggregator backed by Store is created.
	Progress *progress.Aggregator
	// BaseBranch is the branch worktrees are cut from. Defaults to "main".
	BaseBranch string
	// Model overrides the default agent model when set.
	Model string
	// StopGrace overrides the cooperative-stop grace period.
	// Defaults to StopGracePeriod.
	StopGrace time.Duration
	// Logger receives debug output. Defaults to a no-op logger.
	Logger *DebugLogger
	// EventBuffer is the emitter buffer size.
	EventBuffer int
}

// running tracks one attached agent process.
type running struct {
	task *models.Task
	proc agent.Process
	// status is the pump's view of the task's lifecycle status. Only the
	// pump goroutine writes it while the process is live.
	status models.TaskStatus
	// lastPhase is the last phase recorded to the audit log.
	lastPhase models.Phase
	// stopping is set by Stop/Recover/Delete before terminating the process
	// so the pump leaves the final transition to the caller.
	stopping atomic.Bool
	// finished is set by the pump once it performed a terminal transition.
	finished atomic.Bool
	// pumpDone is closed when the pump goroutine exits. By then the task is
	// unregistered.
	pumpDone chan struct{}
}

// Machine is the task state machine. It owns lifecycle transitions, attaches
// agent processes, and publishes events for observers. One Machine serves one
// repository.
type Machine struct {
	store     Store
	worktrees Worktrees
	launcher  agent.Launcher
	publisher Publisher
	recovery  Recoverer
	progress  *progress.Aggregator
	emitter   *EventEmitter
	logger    *DebugLogger

	repoPath   string
	baseBranch string
	model      string
	stopGrace  time.Duration

	// now is replaced in tests to control stall clocks.
	now func() time.Time

	// mu protects procs, locks and stuck.
	mu    sync.Mutex
	procs map[string]*running
	locks map[string]*sync.Mutex
	stuck map[string]bool

	// wg tracks pump goroutines and watchers.
	wg sync.WaitGroup
}

// NewMachine creates a Machine from the given configuration.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, errors.New("new machine: store is required")
	}
	if cfg.Worktrees == nil {
		return nil, errors.New("new machine: worktree store is required")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("new machine: agent launcher is required")
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = StopGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Progress == nil {
		store := cfg.Store
		cfg.Progress = progress.New(store, func(taskID string) models.TaskStatus {
			task, err := store.GetTask(taskID)
			if err != nil {
				return ""
			}
			return task.Status
		})
	}

	setPackageLogger(cfg.Logger)

	return &Machine{
		store:      cfg.Store,
		worktrees:  cfg.Worktrees,
		launcher:   cfg.Launcher,
		publisher:  cfg.Publisher,
		recovery:   cfg.Recovery,
		progress:   cfg.Progress,
		emitter:    NewEventEmitter(cfg.EventBuffer),
		logger:     cfg.Logger,
		repoPath:   cfg.RepoPath,
		baseBranch: cfg.BaseBranch,
		model:      cfg.Model,
		stopGrace:  cfg.StopGrace,
		now:        time.Now,
		procs:      make(map[string]*running),
		locks:      make(map[string]*sync.Mutex),
		stuck:      make(map[string]bool),
	}, nil
}

// Events returns the machine's event stream.
func (m *Machine) Events() <-chan OrchestratorEvent {
	return m.emitter.Events()
}

// Close waits for pumps and watchers to exit, then closes the event stream.
// Cancel watcher contexts and wait for running tasks before calling it.
func (m *Machine) Close() {
	m.wg.Wait()
	m.emitter.Close()
}

// Start attaches an agent to the task and begins consuming its events. The
// task's worktree is allocated (or reused) off the machine's base branch and
// the task moves to in_progress. Fails with ErrAlreadyRunning when an agent
// is already attached.
func (m *Machine) Start(ctx context.Context, taskID string) (*models.Task, error) {
	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	if m.lookup(taskID) != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrAlreadyRunning)
	}

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Active() {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrAlreadyRunning)
	}
	if !task.Status.CanTransition(models.TaskStatusInProgress) {
		return nil, fmt.Errorf("cannot start task %s from status %s", taskID, task.Status)
	}

	wt, err := m.worktrees.Ensure(ctx, taskID, m.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("start task %s: %w", taskID, err)
	}

	prev := task.Status
	if err := m.store.SetTaskStatus(taskID, models.TaskStatusInProgress); err != nil {
		return nil, fmt.Errorf("start task %s: %w", taskID, err)
	}
	_ = m.store.AppendEvent(taskID, state.EventStatusChange, fmt.Sprintf("%s -> %s", prev, models.TaskStatusInProgress))
	task.Status = models.TaskStatusInProgress

	// A new run opens a fresh monotonic progress window.
	m.progress.Reset(taskID)

	proc, err := m.launcher.Launch(ctx, agent.LaunchSpec{
		WorkDir: wt.Path,
		Task:    task,
		Model:   m.model,
	})
	if err != nil {
		if sErr := m.store.SetTaskStatus(taskID, prev); sErr != nil {
			m.logger.Log("task %s: roll back status after launch failure: %v", taskID, sErr)
		}
		_ = m.store.AppendEvent(taskID, state.EventError, fmt.Sprintf("agent launch failed: %v", err))
		return nil, fmt.Errorf("launch agent for task %s: %w", taskID, err)
	}

	if err := m.store.UpdateTaskPID(taskID, proc.PID()); err != nil {
		m.logger.Log("task %s: record agent pid %d: %v", taskID, proc.PID(), err)
	}

	r := &running{
		task:     task,
		proc:     proc,
		status:   models.TaskStatusInProgress,
		pumpDone: make(chan struct{}),
	}
	m.register(r)
	m.wg.Add(1)
	go m.pump(r)

	m.logger.Log("task %s started: agent pid %d in %s", taskID, proc.PID(), wt.Path)
	m.emit(OrchestratorEvent{
		Type:      EventTaskStarted,
		TaskID:    taskID,
		TaskTitle: task.Title,
		Message:   fmt.Sprintf("agent attached (pid %d)", proc.PID()),
	})
	return task, nil
}

// StopResult reports how a stop concluded.
type StopResult struct {
	// Forced is true when the grace period elapsed and the agent was killed.
	Forced bool
	// Completed is true when the agent finished on its own before the stop
	// took effect; the task kept its terminal transition.
	Completed bool
}

// Stop requests cooperative cancellation of the task's agent. If the process
// does not exit within the grace period it is killed and forced_stop recorded
// in task metadata. The task lands in backlog either way.
func (m *Machine) Stop(ctx context.Context, taskID string) (*StopResult, error) {
	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	r := m.lookup(taskID)
	if r == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotRunning)
	}

	r.stopping.Store(true)
	if err := r.proc.Cancel(); err != nil {
		m.logger.Log("task %s: cancel agent: %v", taskID, err)
	}

	res := &StopResult{}
	grace := time.NewTimer(m.stopGrace)
	defer grace.Stop()

	select {
	case <-r.proc.Done():
	case <-grace.C:
		res.Forced = true
		m.logger.Log("task %s: grace period elapsed, killing agent", taskID)
		if err := r.proc.Kill(); err != nil {
			m.logger.Log("task %s: kill agent: %v", taskID, err)
		}
		if err := m.store.SetTaskMeta(taskID, models.MetaForcedStop, m.now().UTC().Format(time.RFC3339)); err != nil {
			m.logger.Log("task %s: record forced stop: %v", taskID, err)
		}
		select {
		case <-r.proc.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-r.pumpDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if r.finished.Load() {
		// The agent beat the stop to the finish line.
		res.Completed = true
		return res, nil
	}

	if err := m.store.UpdateTaskPID(taskID, 0); err != nil {
		m.logger.Log("task %s: clear agent pid: %v", taskID, err)
	}
	if r.status.CanTransition(models.TaskStatusBacklog) {
		if err := m.store.SetTaskStatus(taskID, models.TaskStatusBacklog); err != nil {
			return nil, fmt.Errorf("stop task %s: %w", taskID, err)
		}
	}
	detail := "agent stopped; task returned to backlog"
	if res.Forced {
		detail = fmt.Sprintf("agent killed after %s grace period; task returned to backlog", m.stopGrace)
	}
	_ = m.store.AppendEvent(taskID, state.EventStop, detail)

	m.progress.Reset(taskID)
	m.clearStuckMark(taskID)

	m.logger.Log("task %s stopped (forced=%v)", taskID, res.Forced)
	m.emit(OrchestratorEvent{
		Type:      EventTaskStopped,
		TaskID:    taskID,
		TaskTitle: r.task.Title,
		Message:   detail,
	})
	return res, nil
}

// Recover relaunches the agent of a stuck task against its existing worktree.
// Subtask state and execution progress are kept; the monotonic progress
// window continues from the persisted snapshot. Fails with ErrNotStuck when
// the stall detector does not report the task stuck.
func (m *Machine) Recover(ctx context.Context, taskID string) (*models.Task, error) {
	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if !m.stalled(task) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotStuck)
	}

	// A stalled process may still be alive, just quiet. Take it down before
	// attaching a fresh one.
	if r := m.lookup(taskID); r != nil {
		if err := m.killAndWait(ctx, r); err != nil {
			return nil, fmt.Errorf("recover task %s: %w", taskID, err)
		}
	}

	wt, err := m.worktrees.Ensure(ctx, taskID, m.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("recover task %s: %w", taskID, err)
	}

	// Keep the run's progress. Restore restarts the stall clock so the fresh
	// agent gets a full window.
	if snap, ok := m.progress.Snapshot(taskID); ok {
		m.progress.Restore(taskID, snap)
	} else if task.Progress != nil {
		m.progress.Restore(taskID, *task.Progress)
	}

	now := m.now().UTC().Format(time.RFC3339)
	if err := m.store.SetTaskMeta(taskID, models.MetaStuckSince, ""); err != nil {
		m.logger.Log("task %s: clear stuck marker: %v", taskID, err)
	}
	if err := m.store.SetTaskMeta(taskID, models.MetaRecoveredAt, now); err != nil {
		m.logger.Log("task %s: record recovery: %v", taskID, err)
	}
	m.clearStuckMark(taskID)

	proc, err := m.launcher.Launch(ctx, agent.LaunchSpec{
		WorkDir: wt.Path,
		Task:    task,
		Model:   m.model,
	})
	if err != nil {
		_ = m.store.AppendEvent(taskID, state.EventError, fmt.Sprintf("agent relaunch failed: %v", err))
		return nil, fmt.Errorf("relaunch agent for task %s: %w", taskID, err)
	}

	if err := m.store.UpdateTaskPID(taskID, proc.PID()); err != nil {
		m.logger.Log("task %s: record agent pid %d: %v", taskID, proc.PID(), err)
	}

	r := &running{
		task:     task,
		proc:     proc,
		status:   task.Status,
		pumpDone: make(chan struct{}),
	}
	m.register(r)
	m.wg.Add(1)
	go m.pump(r)

	_ = m.store.AppendEvent(taskID, state.EventRecover, fmt.Sprintf("agent relaunched after stall (pid %d)", proc.PID()))
	m.logger.Log("task %s recovered: agent pid %d", taskID, proc.PID())
	m.emit(OrchestratorEvent{
		Type:      EventTaskStarted,
		TaskID:    taskID,
		TaskTitle: task.Title,
		Message:   "agent relaunched after stall",
	})
	return task, nil
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	// WorktreeRemoved is true when a worktree existed and was removed.
	WorktreeRemoved bool
}

// Delete removes a task, cascading to its worktree and branch. A task with a
// live agent is only deletable when the stall detector reports it stuck; the
// stuck process is killed first. If the worktree is removed but the task
// record cannot be, the task is marked deleted_partial and ErrDeletedPartial
// returned; the inconsistency is never silently retried.
func (m *Machine) Delete(ctx context.Context, taskID string) (*DeleteResult, error) {
	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	r := m.lookup(taskID)
	if task.Status.Active() && !m.stalled(task) {
		return nil, fmt.Errorf("cannot delete task %s while an agent is attached (stop it first): %w", taskID, ErrAlreadyRunning)
	}
	if r != nil {
		// Stuck force-delete: the quiet process goes down with the task.
		if err := m.killAndWait(ctx, r); err != nil {
			return nil, fmt.Errorf("delete task %s: %w", taskID, err)
		}
	}

	wt, err := m.store.GetWorktree(taskID)
	if err != nil {
		return nil, fmt.Errorf("delete task %s: %w", taskID, err)
	}

	res := &DeleteResult{}
	if wt != nil {
		if err := m.worktrees.Discard(ctx, taskID, true); err != nil {
			return nil, fmt.Errorf("delete task %s: discard worktree: %w", taskID, err)
		}
		res.WorktreeRemoved = true
	}

	if err := m.store.DeleteTask(taskID); err != nil {
		if !res.WorktreeRemoved {
			return nil, fmt.Errorf("delete task %s: %w", taskID, err)
		}
		// The worktree is gone but the record survived. Mark the task so the
		// inconsistency is visible instead of retrying into the dark.
		if sErr := m.store.SetTaskStatus(taskID, models.TaskStatusDeletedPartial); sErr != nil {
			return res, fmt.Errorf("delete task %s: %w (mark deleted_partial: %v)", taskID, err, sErr)
		}
		_ = m.store.AppendEvent(taskID, state.EventError, "worktree removed but task record delete failed; marked deleted_partial")
		m.logger.Log("task %s left deleted_partial: %v", taskID, err)
		m.emit(OrchestratorEvent{
			Type:      EventTaskFailed,
			TaskID:    taskID,
			TaskTitle: task.Title,
			Message:   "delete left task in deleted_partial",
			Error:     err,
		})
		return res, fmt.Errorf("delete task %s: %w: %v", taskID, ErrDeletedPartial, err)
	}

	m.progress.Reset(taskID)
	m.clearStuckMark(taskID)
	m.logger.Log("task %s deleted (worktree removed: %v)", taskID, res.WorktreeRemoved)
	return res, nil
}

// Merge lands the task's worktree branch in its base branch and completes the
// task. Conflicts are reported in the result, not as errors; the task keeps
// its status until a merge succeeds.
func (m *Machine) Merge(ctx context.Context, taskID string) (*merge.Result, error) {
	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	if m.lookup(taskID) != nil {
		return nil, fmt.Errorf("cannot merge task %s while its agent is running: %w", taskID, ErrAlreadyRunning)
	}

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.CanTransition(models.TaskStatusDone) {
		return nil, fmt.Errorf("cannot complete task %s from status %s", taskID, task.Status)
	}

	res, err := m.worktrees.MergeInto(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("merge task %s: %w", taskID, err)
	}
	if !res.Success {
		_ = m.store.AppendEvent(taskID, state.EventMerge, "merge blocked: "+res.Message)
		m.logger.Log("task %s merge blocked: %s", taskID, res.Message)
		return res, nil
	}

	if err := m.store.SetTaskStatus(taskID, models.TaskStatusDone); err != nil {
		return res, fmt.Errorf("merged task %s but failed to mark it done: %w", taskID, err)
	}
	_ = m.store.AppendEvent(taskID, state.EventStatusChange, fmt.Sprintf("%s -> %s (merged)", task.Status, models.TaskStatusDone))

	m.progress.Reset(taskID)
	m.logger.Log("task %s merged: %s", taskID, res.Message)
	m.emit(OrchestratorEvent{
		Type:      EventMergeCompleted,
		TaskID:    taskID,
		TaskTitle: task.Title,
		Message:   res.Message,
	})
	return res, nil
}

// CreatePR opens (or adopts) the pull request for a finished task through the
// configured publisher.
func (m *Machine) CreatePR(ctx context.Context, taskID string, opts publish.PROptions) (*publish.PRResult, error) {
	if m.publisher == nil {
		return nil, errors.New("no publisher configured")
	}

	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	if m.lookup(taskID) != nil {
		return nil, fmt.Errorf("cannot open a pull request for task %s while its agent is running: %w", taskID, ErrAlreadyRunning)
	}
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusPRCreated && !task.Status.CanTransition(models.TaskStatusPRCreated) {
		return nil, fmt.Errorf("cannot open a pull request for task %s in status %s", taskID, task.Status)
	}

	res, err := m.publisher.CreatePR(ctx, taskID, opts)
	if err != nil {
		return nil, err
	}
	if res.Success {
		m.logger.Log("task %s pull request: %s (existing=%v)", taskID, res.URL, res.AlreadyExists)
		m.emit(OrchestratorEvent{
			Type:      EventPRCreated,
			TaskID:    taskID,
			TaskTitle: task.Title,
			Message:   res.URL,
		})
	}
	return res, nil
}

// Stage commits worktree-less changes into the project tree and completes the
// task through the configured publisher.
func (m *Machine) Stage(ctx context.Context, taskID string) (*merge.Result, error) {
	if m.publisher == nil {
		return nil, errors.New("no publisher configured")
	}

	lk := m.taskLock(taskID)
	lk.Lock()
	defer lk.Unlock()

	if m.lookup(taskID) != nil {
		return nil, fmt.Errorf("cannot stage task %s while its agent is running: %w", taskID, ErrAlreadyRunning)
	}
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	res, err := m.publisher.StageIntoProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if res.Success {
		m.progress.Reset(taskID)
		m.logger.Log("task %s staged into project tree", taskID)
		m.emit(OrchestratorEvent{
			Type:      EventMergeCompleted,
			TaskID:    taskID,
			TaskTitle: task.Title,
			Message:   "staged into project tree",
		})
	}
	return res, nil
}

// RecoverInterrupted resets tasks whose recorded process died with a previous
// run. Called once on open, before any Start. Worktrees are kept so the tasks
// are resumable.
func (m *Machine) RecoverInterrupted() ([]string, error) {
	if m.recovery == nil {
		return nil, nil
	}
	reset, err := m.recovery.ResetAllInterrupted()
	for _, id := range reset {
		m.logger.Log("task %s reset to backlog: recorded process no longer alive", id)
	}
	return reset, err
}

// Running reports whether the task has an attached agent process.
func (m *Machine) Running(taskID string) bool {
	return m.lookup(taskID) != nil
}

// RunningTasks returns the IDs of all tasks with an attached agent process.
func (m *Machine) RunningTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	return ids
}

// Wait returns a channel closed once the task's current run has fully ended.
// For a task with no attached process the channel is already closed.
func (m *Machine) Wait(taskID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.procs[taskID]; ok {
		return r.pumpDone
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Stuck reports whether the stall detector currently flags the task.
func (m *Machine) Stuck(taskID string) bool {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return m.progress.IsStalled(taskID, m.now())
	}
	return m.stalled(task)
}

// stalled reports whether a task's agent has gone quiet past the stall
// timeout. The live aggregator window is authoritative when one exists; for
// a run owned by an earlier or separate process the persisted snapshot
// stands in, so recover and delete keep working after a restart.
func (m *Machine) stalled(task *models.Task) bool {
	now := m.now()
	if m.progress.IsStalled(task.ID, now) {
		return true
	}
	if _, ok := m.progress.Snapshot(task.ID); ok {
		return false
	}
	if task.Status != models.TaskStatusInProgress || task.Progress == nil {
		return false
	}
	return now.Sub(task.Progress.LastEventAt) > progress.StallTimeout
}

// killAndWait terminates a process without a grace period and waits for the
// pump to finish. The caller must hold the task lock.
func (m *Machine) killAndWait(ctx context.Context, r *running) error {
	r.stopping.Store(true)
	if err := r.proc.Kill(); err != nil {
		m.logger.Log("task %s: kill agent: %v", r.task.ID, err)
	}
	select {
	case <-r.proc.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.pumpDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// emit publishes an event, stamping the time.
func (m *Machine) emit(ev OrchestratorEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	m.emitter.Emit(ev)
}

// taskLock returns the mutex serializing lifecycle operations for one task.
func (m *Machine) taskLock(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[taskID]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[taskID] = lk
	}
	return lk
}

func (m *Machine) lookup(taskID string) *running {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procs[taskID]
}

func (m *Machine) register(r *running) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[r.task.ID] = r
}

func (m *Machine) unregister(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, taskID)
}

// runningSnapshot returns the current running entries.
func (m *Machine) runningSnapshot() []*running {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := make([]*running, 0, len(m.procs))
	for _, r := range m.procs {
		rs = append(rs, r)
	}
	return rs
}

// markStuck flags a task as stuck. Returns false if it was already flagged.
func (m *Machine) markStuck(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stuck[taskID] {
		return false
	}
	m.stuck[taskID] = true
	return true
}

// clearStuckMark unflags a task. Returns true if it was flagged.
func (m *Machine) clearStuckMark(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stuck[taskID] {
		return false
	}
	delete(m.stuck, taskID)
	return true
}
