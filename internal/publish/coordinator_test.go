package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drydocklabs/drydock/internal/githost"
	"github.com/drydocklabs/drydock/internal/merge"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/internal/worktree"
	"github.com/drydocklabs/drydock/pkg/models"
)

type fakeTasks struct {
	task      *models.Task
	statuses  []models.TaskStatus
	meta      map[string]string
	events    []string
	metaErr   error
	statusErr error
}

func (f *fakeTasks) GetTask(id string) (*models.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, state.ErrTaskNotFound
	}
	return f.task, nil
}

func (f *fakeTasks) SetTaskStatus(id string, s models.TaskStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeTasks) SetTaskMeta(id, key, value string) error {
	if f.metaErr != nil {
		return f.metaErr
	}
	if f.meta == nil {
		f.meta = make(map[string]string)
	}
	f.meta[key] = value
	return nil
}

func (f *fakeTasks) AppendEvent(taskID, kind, detail string) error {
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeTasks) lastStatus() models.TaskStatus {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeWorktrees struct {
	wt *models.Worktree
}

func (f *fakeWorktrees) GetWorktree(taskID string) (*models.Worktree, error) {
	return f.wt, nil
}

type fakeHost struct {
	repo        string
	detectCalls int
	finds       []*githost.PullRequest
	findErr     error
	created     *githost.PullRequest
	createErr   error
	createCalls int
	lastCreate  []string
}

func (f *fakeHost) CreatePullRequest(ctx context.Context, repo, branch, base, title, body string) (*githost.PullRequest, error) {
	f.createCalls++
	f.lastCreate = []string{repo, branch, base, title, body}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeHost) FindPullRequest(ctx context.Context, repo, branch string) (*githost.PullRequest, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if len(f.finds) == 0 {
		return nil, nil
	}
	pr := f.finds[0]
	f.finds = f.finds[1:]
	return pr, nil
}

func (f *fakeHost) ListBranches(ctx context.Context, repo string) ([]string, error) {
	return nil, nil
}

func (f *fakeHost) DetectRepo(ctx context.Context, dir string) (string, error) {
	f.detectCalls++
	return f.repo, nil
}

type fakePusher struct {
	pushed []string
	err    error
}

func (f *fakePusher) Push(branch string) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, branch)
	return nil
}

func publishTask() *models.Task {
	return &models.Task{
		ID:     "task-1",
		Title:  "Add login page",
		Status: models.TaskStatusHumanReview,
		Subtasks: []models.Subtask{
			{ID: "s1", TaskID: "task-1", Ordinal: 0, Title: "Build form"},
		},
	}
}

func publishWorktree() *models.Worktree {
	return &models.Worktree{
		TaskID:     "task-1",
		Path:       "/work/task-1",
		Branch:     "drydock/task-1",
		BaseBranch: "main",
	}
}

func TestCreatePR(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	host := &fakeHost{
		created: &githost.PullRequest{Number: 42, URL: "https://github.com/acme/widgets/pull/42"},
	}
	pusher := &fakePusher{}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{wt: publishWorktree()}, host, nil, pusher)

	result, err := c.CreatePR(context.Background(), "task-1", PROptions{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("CreatePR: %v", err)
	}

	if !result.Success || result.AlreadyExists {
		t.Errorf("result = %+v, want fresh success", result)
	}
	if result.URL != "https://github.com/acme/widgets/pull/42" {
		t.Errorf("URL = %q", result.URL)
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0] != "drydock/task-1" {
		t.Errorf("pushed = %v, want the task branch", pusher.pushed)
	}
	if host.lastCreate[0] != "acme/widgets" || host.lastCreate[1] != "drydock/task-1" || host.lastCreate[2] != "main" {
		t.Errorf("create args = %v", host.lastCreate)
	}
	if host.lastCreate[3] != "Add login page" {
		t.Errorf("title = %q, want the task title", host.lastCreate[3])
	}
	if !strings.Contains(host.lastCreate[4], "Build form") {
		t.Errorf("body = %q, want subtask list", host.lastCreate[4])
	}
	if tasks.lastStatus() != models.TaskStatusPRCreated {
		t.Errorf("status = %q, want pr_created", tasks.lastStatus())
	}
	if tasks.meta[models.MetaPRURL] != result.URL {
		t.Errorf("pr_url meta = %q", tasks.meta[models.MetaPRURL])
	}
	if host.detectCalls != 0 {
		t.Errorf("detectCalls = %d, repo was given explicitly", host.detectCalls)
	}
}

func TestCreatePR_DetectsRepo(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	host := &fakeHost{
		repo:    "acme/widgets",
		created: &githost.PullRequest{URL: "https://github.com/acme/widgets/pull/1"},
	}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{wt: publishWorktree()}, host, nil, &fakePusher{})

	if _, err := c.CreatePR(context.Background(), "task-1", PROptions{}); err != nil {
		t.Fatalf("CreatePR: %v", err)
	}
	if host.detectCalls != 1 {
		t.Errorf("detectCalls = %d, want 1", host.detectCalls)
	}
	if host.lastCreate[0] != "acme/widgets" {
		t.Errorf("created against repo %q", host.lastCreate[0])
	}
}

func TestCreatePR_AlreadyExists(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	host := &fakeHost{
		finds: []*githost.PullRequest{{Number: 7, URL: "https://github.com/acme/widgets/pull/7"}},
	}
	pusher := &fakePusher{}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{wt: publishWorktree()}, host, nil, pusher)

	result, err := c.CreatePR(context.Background(), "task-1", PROptions{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("CreatePR: %v", err)
	}

	if !result.Success || !result.AlreadyExists {
		t.Errorf("result = %+v, want AlreadyExists", result)
	}
	if result.URL != "https://github.com/acme/widgets/pull/7" {
		t.Errorf("URL = %q, want the existing PR", result.URL)
	}
	if len(pusher.pushed) != 0 {
		t.Errorf("pushed = %v, want no push when the PR exists", pusher.pushed)
	}
	if host.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", host.createCalls)
	}
	if tasks.lastStatus() != models.TaskStatusPRCreated {
		t.Errorf("status = %q, want pr_created", tasks.lastStatus())
	}
}

func TestCreatePR_AdoptsRacedPR(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	host := &fakeHost{
		// First find sees nothing; create loses the race; second find
		// returns the winner.
		finds:     []*githost.PullRequest{nil, {URL: "https://github.com/acme/widgets/pull/9"}},
		createErr: fmt.Errorf("create pull request: %w", githost.ErrPRExists),
	}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{wt: publishWorktree()}, host, nil, &fakePusher{})

	result, err := c.CreatePR(context.Background(), "task-1", PROptions{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("CreatePR: %v", err)
	}
	if !result.AlreadyExists || result.URL != "https://github.com/acme/widgets/pull/9" {
		t.Errorf("result = %+v, want the raced PR adopted", result)
	}
}

func TestCreatePR_NoWorktree(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{}, &fakeHost{}, nil, &fakePusher{})

	_, err := c.CreatePR(context.Background(), "task-1", PROptions{Repo: "acme/widgets"})
	if !errors.Is(err, worktree.ErrWorktreeNotFound) {
		t.Fatalf("error = %v, want ErrWorktreeNotFound", err)
	}
}

func TestCreatePR_PushFailure(t *testing.T) {
	tasks := &fakeTasks{task: publishTask()}
	pusher := &fakePusher{err: errors.New("remote hung up")}
	c := NewCoordinatorWithPusher("/repo", tasks, &fakeWorktrees{wt: publishWorktree()}, &fakeHost{}, nil, pusher)

	_, err := c.CreatePR(context.Background(), "task-1", PROptions{Repo: "acme/widgets"})
	if err == nil || !strings.Contains(err.Error(), "push branch") {
		t.Fatalf("error = %v, want push failure", err)
	}
	if tasks.lastStatus() != "" {
		t.Errorf("status changed to %q on push failure", tasks.lastStatus())
	}
}

func TestCreatePR_UnknownTask(t *testing.T) {
	c := NewCoordinatorWithPusher("/repo", &fakeTasks{}, &fakeWorktrees{}, &fakeHost{}, nil, &fakePusher{})

	_, err := c.CreatePR(context.Background(), "task-x", PROptions{})
	if !errors.Is(err, state.ErrTaskNotFound) {
		t.Fatalf("error = %v, want ErrTaskNotFound", err)
	}
}

// gitRun runs a git command in dir and fails the test on error.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRepo creates a git repository with an initial commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init")
	gitRun(t, dir, "config", "user.name", "Test")
	gitRun(t, dir, "config", "user.email", "test@test.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "Initial commit")
	gitRun(t, dir, "branch", "-M", "main")
	return dir
}

func TestStageIntoProject(t *testing.T) {
	repo := initRepo(t)
	if err := os.WriteFile(filepath.Join(repo, "feature.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tasks := &fakeTasks{task: publishTask()}
	c := NewCoordinatorWithPusher(repo, tasks, &fakeWorktrees{}, &fakeHost{}, merge.NewEngine(repo), &fakePusher{})

	result, err := c.StageIntoProject(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("StageIntoProject: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	if !strings.Contains(gitRun(t, repo, "log", "-1", "--format=%s"), "Stage task: Add login page") {
		t.Error("staged commit missing")
	}
	if gitRun(t, repo, "status", "--porcelain") != "" {
		t.Error("working tree should be clean after staging")
	}
	if tasks.lastStatus() != models.TaskStatusDone {
		t.Errorf("status = %q, want done", tasks.lastStatus())
	}
	if _, err := time.Parse(time.RFC3339, tasks.meta[models.MetaStagedAt]); err != nil {
		t.Errorf("staged_at = %q, not RFC3339: %v", tasks.meta[models.MetaStagedAt], err)
	}
}

func TestStageIntoProject_NoChanges(t *testing.T) {
	repo := initRepo(t)
	tasks := &fakeTasks{task: publishTask()}
	c := NewCoordinatorWithPusher(repo, tasks, &fakeWorktrees{}, &fakeHost{}, merge.NewEngine(repo), &fakePusher{})

	result, err := c.StageIntoProject(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("StageIntoProject: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if tasks.lastStatus() != models.TaskStatusDone {
		t.Errorf("status = %q, want done even with nothing new to commit", tasks.lastStatus())
	}
}

func TestStageIntoProject_RejectsWorktreeTask(t *testing.T) {
	repo := initRepo(t)
	tasks := &fakeTasks{task: publishTask()}
	c := NewCoordinatorWithPusher(repo, tasks, &fakeWorktrees{wt: publishWorktree()}, &fakeHost{}, merge.NewEngine(repo), &fakePusher{})

	if _, err := c.StageIntoProject(context.Background(), "task-1"); err == nil {
		t.Fatal("expected error for a task with its own worktree")
	}
	if tasks.lastStatus() != "" {
		t.Errorf("status changed to %q", tasks.lastStatus())
	}
}

func TestStageIntoProject_MetaWriteBlocksDone(t *testing.T) {
	repo := initRepo(t)
	if err := os.WriteFile(filepath.Join(repo, "feature.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tasks := &fakeTasks{task: publishTask(), metaErr: errors.New("disk full")}
	c := NewCoordinatorWithPusher(repo, tasks, &fakeWorktrees{}, &fakeHost{}, merge.NewEngine(repo), &fakePusher{})

	if _, err := c.StageIntoProject(context.Background(), "task-1"); err == nil {
		t.Fatal("expected error when the staged_at write fails")
	}
	if tasks.lastStatus() == models.TaskStatusDone {
		t.Error("task must not be marked done before staged_at is durable")
	}
}
