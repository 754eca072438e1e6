package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// maxToolOutput caps tool output fed back to the model.
const maxToolOutput = 30000

// ToolExecutor executes tool calls inside one worktree. All file paths are
// confined to the worktree: the agent builds exactly one task and must not
// touch the main checkout or other tasks' worktrees.
type ToolExecutor struct {
	workDir string
}

// NewToolExecutor creates an executor rooted at workDir.
func NewToolExecutor(workDir string) *ToolExecutor {
	return &ToolExecutor{workDir: workDir}
}

// ToolResult is the outcome of one tool execution, fed back to the model.
type ToolResult struct {
	Content string
	IsError bool
}

// Execute runs a tool by name with the given JSON input.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return e.execRead(input)
	case "Write":
		return e.execWrite(input)
	case "Edit":
		return e.execEdit(input)
	case "Bash":
		return e.execBash(ctx, input)
	case "Glob":
		return e.execGlob(input)
	case "Grep":
		return e.execGrep(ctx, input)
	case "ListDir":
		return e.execListDir(input)
	default:
		return ToolResult{Content: fmt.Sprintf("Unknown tool: %s", name), IsError: true}
	}
}

// resolvePath maps a tool path into the worktree and rejects escapes.
func (e *ToolExecutor) resolvePath(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.workDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(e.workDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the worktree", path)
	}
	return resolved, nil
}

func errResult(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

func (e *ToolExecutor) execRead(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return errResult("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return errResult("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	// cat -n style line numbers
	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: sb.String()}
}

func (e *ToolExecutor) execWrite(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return errResult("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errResult("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return errResult("Failed to write file: %v", err)
	}
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *ToolExecutor) execEdit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return errResult("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("Failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return errResult("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return errResult("old_string found %d times; must be unique or use replace_all=true", count)
	}

	var updated string
	if params.ReplaceAll {
		updated = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		updated = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return errResult("Failed to write file: %v", err)
	}

	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) execBash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command     string `json:"command"`
		Timeout     int    `json:"timeout"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = e.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errResult("Command timed out after %v:\n%s", timeout, string(output))
		}
		return errResult("%s\nError: %v", string(output), err)
	}
	return ToolResult{Content: truncateOutput(string(output))}
}

func (e *ToolExecutor) execGlob(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	searchPath := e.workDir
	if params.Path != "" {
		resolved, err := e.resolvePath(params.Path)
		if err != nil {
			return errResult("%v", err)
		}
		searchPath = resolved
	}

	// filepath.Glob has no **, so walk and match base names
	var matches []string
	walkErr := filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if matched, _ := filepath.Match(filepath.Base(params.Pattern), d.Name()); matched {
			relPath, _ := filepath.Rel(searchPath, path)
			matches = append(matches, relPath)
		}
		return nil
	})
	if walkErr != nil {
		return errResult("Glob error: %v", walkErr)
	}

	if len(matches) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	return ToolResult{Content: strings.Join(matches, "\n")}
}

func (e *ToolExecutor) execGrep(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
		Context int    `json:"context"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	args := []string{"--color=never", "-n"}
	if params.Context > 0 {
		args = append(args, "-C", fmt.Sprintf("%d", params.Context))
	}
	if params.Glob != "" {
		args = append(args, "--glob", params.Glob)
	}
	args = append(args, params.Pattern)

	searchPath := e.workDir
	if params.Path != "" {
		resolved, err := e.resolvePath(params.Path)
		if err != nil {
			return errResult("%v", err)
		}
		searchPath = resolved
	}
	args = append(args, searchPath)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// rg exits non-zero on no match, so ignore the error
	cmd := exec.CommandContext(ctx, "rg", args...)
	output, _ := cmd.CombinedOutput()

	if len(output) == 0 {
		return ToolResult{Content: "No matches found"}
	}
	return ToolResult{Content: truncateOutput(string(output))}
}

func (e *ToolExecutor) execListDir(input json.RawMessage) ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return errResult("%v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return errResult("Failed to read directory: %v", err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "d %s/\n", entry.Name())
		} else if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&sb, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&sb, "- %s\n", entry.Name())
		}
	}
	return ToolResult{Content: sb.String()}
}

func truncateOutput(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}

// FormatToolAction returns a short status line for a tool call, shown as
// heartbeat progress while the agent works.
func FormatToolAction(name string, input json.RawMessage) string {
	var p struct {
		FilePath    string `json:"file_path"`
		Command     string `json:"command"`
		Description string `json:"description"`
		Pattern     string `json:"pattern"`
	}
	_ = json.Unmarshal(input, &p)

	switch name {
	case "Read":
		return "Reading " + filepath.Base(p.FilePath)
	case "Write":
		return "Writing " + filepath.Base(p.FilePath)
	case "Edit":
		return "Editing " + filepath.Base(p.FilePath)
	case "Bash":
		if p.Description != "" {
			return p.Description
		}
		cmd := strings.SplitN(p.Command, " ", 2)[0]
		if len(cmd) > 20 {
			cmd = cmd[:17] + "..."
		}
		return "Running " + cmd
	case "Glob", "Grep":
		pat := p.Pattern
		if len(pat) > 20 {
			pat = pat[:17] + "..."
		}
		return "Searching " + pat
	case "ListDir":
		return "Listing directory"
	default:
		return name
	}
}
