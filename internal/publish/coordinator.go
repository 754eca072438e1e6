// Package publish finalizes finished tasks: opening pull requests and
// staging in-place changes into the project tree.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drydocklabs/drydock/internal/git"
	"github.com/drydocklabs/drydock/internal/githost"
	"github.com/drydocklabs/drydock/internal/merge"
	"github.com/drydocklabs/drydock/internal/state"
	"github.com/drydocklabs/drydock/internal/worktree"
	"github.com/drydocklabs/drydock/pkg/models"
)

// Tasks is the slice of the state store the coordinator writes through.
type Tasks interface {
	GetTask(id string) (*models.Task, error)
	SetTaskStatus(id string, status models.TaskStatus) error
	SetTaskMeta(id, key, value string) error
	AppendEvent(taskID, kind, detail string) error
}

// Worktrees provides worktree records.
type Worktrees interface {
	GetWorktree(taskID string) (*models.Worktree, error)
}

// Pusher pushes branches to the remote. Satisfied by git.Runner.
type Pusher interface {
	Push(branch string) error
}

// PROptions tune pull request creation. Zero values fall back to the task
// title, a generated body, and the repository detected from the checkout.
type PROptions struct {
	Repo  string
	Title string
	Body  string
}

// PRResult is the outcome of CreatePR.
type PRResult struct {
	Success       bool
	URL           string
	AlreadyExists bool
}

// Coordinator drives the publish paths.
type Coordinator struct {
	tasks    Tasks
	records  Worktrees
	host     githost.Host
	git      Pusher
	merger   *merge.Engine
	repoPath string
}

// NewCoordinator creates a coordinator for the repository at repoPath.
func NewCoordinator(repoPath string, tasks Tasks, records Worktrees, host githost.Host, merger *merge.Engine) *Coordinator {
	return &Coordinator{
		tasks:    tasks,
		records:  records,
		host:     host,
		git:      git.NewRunner(repoPath),
		merger:   merger,
		repoPath: repoPath,
	}
}

// NewCoordinatorWithPusher injects the branch pusher, for tests.
func NewCoordinatorWithPusher(repoPath string, tasks Tasks, records Worktrees, host githost.Host, merger *merge.Engine, pusher Pusher) *Coordinator {
	c := NewCoordinator(repoPath, tasks, records, host, merger)
	c.git = pusher
	return c
}

// CreatePR pushes the task branch and opens a pull request. Idempotent: an
// open PR for the branch is adopted and reported AlreadyExists rather than
// treated as an error.
func (c *Coordinator) CreatePR(ctx context.Context, taskID string, opts PROptions) (*PRResult, error) {
	task, err := c.tasks.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	wt, err := c.records.GetWorktree(taskID)
	if err != nil {
		return nil, fmt.Errorf("load worktree record for task %s: %w", taskID, err)
	}
	if wt == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, worktree.ErrWorktreeNotFound)
	}

	repo := opts.Repo
	if repo == "" {
		repo, err = c.host.DetectRepo(ctx, c.repoPath)
		if err != nil {
			return nil, err
		}
	}

	if existing, err := c.host.FindPullRequest(ctx, repo, wt.Branch); err != nil {
		return nil, err
	} else if existing != nil {
		if err := c.recordPR(taskID, existing.URL); err != nil {
			return nil, err
		}
		return &PRResult{Success: true, URL: existing.URL, AlreadyExists: true}, nil
	}

	if err := git.WithRetry(ctx, func() error { return c.git.Push(wt.Branch) }); err != nil {
		return nil, fmt.Errorf("push branch %s: %w", wt.Branch, err)
	}

	title := opts.Title
	if title == "" {
		title = task.Title
	}
	body := opts.Body
	if body == "" {
		body = prBody(task)
	}

	pr, err := c.host.CreatePullRequest(ctx, repo, wt.Branch, wt.BaseBranch, title, body)
	if err != nil {
		// Raced another creator between find and create; adopt theirs.
		if errors.Is(err, githost.ErrPRExists) {
			if existing, findErr := c.host.FindPullRequest(ctx, repo, wt.Branch); findErr == nil && existing != nil {
				if err := c.recordPR(taskID, existing.URL); err != nil {
					return nil, err
				}
				return &PRResult{Success: true, URL: existing.URL, AlreadyExists: true}, nil
			}
		}
		return nil, err
	}

	if err := c.recordPR(taskID, pr.URL); err != nil {
		return nil, err
	}
	return &PRResult{Success: true, URL: pr.URL}, nil
}

func (c *Coordinator) recordPR(taskID, url string) error {
	if err := c.tasks.SetTaskMeta(taskID, models.MetaPRURL, url); err != nil {
		return fmt.Errorf("record PR URL for task %s: %w", taskID, err)
	}
	if err := c.tasks.SetTaskStatus(taskID, models.TaskStatusPRCreated); err != nil {
		return fmt.Errorf("mark task %s pr_created: %w", taskID, err)
	}
	_ = c.tasks.AppendEvent(taskID, state.EventPR, url)
	return nil
}

// StageIntoProject commits changes a task made directly in the main project
// tree and marks the task done. The done transition happens only after the
// commit and the staged_at metadata write both land.
func (c *Coordinator) StageIntoProject(ctx context.Context, taskID string) (*merge.Result, error) {
	task, err := c.tasks.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	if wt, err := c.records.GetWorktree(taskID); err != nil {
		return nil, fmt.Errorf("load worktree record for task %s: %w", taskID, err)
	} else if wt != nil {
		return nil, fmt.Errorf("task %s has its own worktree; merge it instead of staging", taskID)
	}

	result, err := c.merger.StageApply(ctx, fmt.Sprintf("Stage task: %s", task.Title))
	if err != nil {
		return nil, fmt.Errorf("stage changes for task %s: %w", taskID, err)
	}
	if !result.Success {
		return result, nil
	}

	if err := c.tasks.SetTaskMeta(taskID, models.MetaStagedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("record staged_at for task %s: %w", taskID, err)
	}
	if err := c.tasks.SetTaskStatus(taskID, models.TaskStatusDone); err != nil {
		return nil, fmt.Errorf("mark task %s done: %w", taskID, err)
	}
	_ = c.tasks.AppendEvent(taskID, state.EventMerge, "staged into project tree")
	return result, nil
}

func prBody(task *models.Task) string {
	body := fmt.Sprintf("Automated changes for task %s.", task.ID)
	if len(task.Subtasks) > 0 {
		body += "\n\nSubtasks:\n"
		for _, st := range task.Subtasks {
			body += fmt.Sprintf("- %s\n", st.Title)
		}
	}
	return body
}
