package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/drydocklabs/drydock/pkg/models"
)

var (
	newTitle    string
	newSpec     string
	newFile     string
	newSubtasks []string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a task in the backlog",
	Long: `Create a task in the backlog, ready for drydock start.

A task has a title, an optional spec reference, and an ordered list of
subtasks the agent works through. Define it inline with flags or load it
from a YAML file:

  title: Add login page
  spec: SPEC-42
  subtasks:
    - Build the login form component
    - Wire the form to the auth API
    - Add form validation

Examples:
  drydock new --title "Add login page"
  drydock new --title "Add login page" --subtask "Build form" --subtask "Wire API"
  drydock new -f task.yaml`,
	RunE: runNew,
}

func init() {
	newCmd.Flags().StringVar(&newTitle, "title", "", "Task title")
	newCmd.Flags().StringVar(&newSpec, "spec", "", "Spec reference the task implements")
	newCmd.Flags().StringVarP(&newFile, "file", "f", "", "YAML task definition file")
	newCmd.Flags().StringArrayVar(&newSubtasks, "subtask", nil, "Subtask title (repeatable, ordered)")
}

// taskFile is the YAML task definition accepted by --file.
type taskFile struct {
	Title    string   `yaml:"title"`
	Spec     string   `yaml:"spec"`
	Subtasks []string `yaml:"subtasks"`
}

func runNew(cmd *cobra.Command, args []string) error {
	title := newTitle
	spec := newSpec
	subtitles := newSubtasks

	if newFile != "" {
		data, err := os.ReadFile(newFile)
		if err != nil {
			return fmt.Errorf("read task file: %w", err)
		}
		var tf taskFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return fmt.Errorf("parse task file %s: %w", newFile, err)
		}
		// Flags win over the file so a template can be tweaked per run.
		if title == "" {
			title = tf.Title
		}
		if spec == "" {
			spec = tf.Spec
		}
		if len(subtitles) == 0 {
			subtitles = tf.Subtasks
		}
	}

	if title == "" {
		return fmt.Errorf("a task needs a title (--title or a task file)")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	task := &models.Task{
		ID:     uuid.NewString(),
		SpecID: spec,
		Title:  title,
		Status: models.TaskStatusBacklog,
	}
	for i, sub := range subtitles {
		task.Subtasks = append(task.Subtasks, models.Subtask{
			ID:      uuid.NewString(),
			TaskID:  task.ID,
			Ordinal: i,
			Title:   sub,
			Status:  models.SubtaskPending,
		})
	}

	if err := a.db.CreateTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	printStatus("✓", fmt.Sprintf("created task %s", shortID(task.ID)), color.FgGreen)
	fmt.Printf("  Title: %s\n", task.Title)
	if task.SpecID != "" {
		fmt.Printf("  Spec: %s\n", task.SpecID)
	}
	if len(task.Subtasks) > 0 {
		fmt.Printf("  Subtasks: %d\n", len(task.Subtasks))
	}
	fmt.Printf("\nStart it with:\n  drydock start %s\n", shortID(task.ID))
	return nil
}
