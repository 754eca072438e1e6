package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCLIBinary is the claude CLI executable looked up on PATH.
const DefaultCLIBinary = "claude"

// CLILauncher runs agents as claude CLI subprocesses with stream-json
// output.
type CLILauncher struct {
	// Binary is the executable name or path. Defaults to DefaultCLIBinary.
	Binary string
	// Model overrides the CLI's default model for every launch when set.
	// LaunchSpec.Model takes precedence over it.
	Model string
}

// NewCLILauncher creates a launcher using the claude binary from PATH.
func NewCLILauncher() *CLILauncher {
	return &CLILauncher{Binary: DefaultCLIBinary}
}

// Launch starts the subprocess in spec.WorkDir and begins streaming events.
// The returned Process is already running; a failed exec (binary missing,
// bad working directory) is returned here, not on the event stream.
func (l *CLILauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if spec.WorkDir == "" {
		return nil, fmt.Errorf("launch agent: working directory is required")
	}
	if spec.Task == nil {
		return nil, fmt.Errorf("launch agent: task is required")
	}

	binary := l.Binary
	if binary == "" {
		binary = DefaultCLIBinary
	}
	model := spec.Model
	if model == "" {
		model = l.Model
	}

	ctx, cancel := context.WithCancel(ctx)

	// --allowedTools covers common operations without prompting; the
	// project's own .claude/settings.json can still deny patterns.
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep,WebFetch",
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "-p", BuildPrompt(spec))

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = spec.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	p := &cliProcess{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event, 100),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go p.collectStderr()
	go p.run()
	return p, nil
}

// cliProcess supervises one claude CLI subprocess and translates its
// stream-json output into Events.
type cliProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc

	events     chan Event
	done       chan struct{}
	stderrDone chan struct{}

	killOnce sync.Once

	mu        sync.Mutex
	stderrBuf []byte
}

var _ Process = (*cliProcess)(nil)

// run reads stdout until EOF, emits translated events, then waits for the
// process and delivers the terminal event before closing the stream.
func (p *cliProcess) run() {
	defer close(p.done)
	defer close(p.events)

	var result streamResult
	scanner := bufio.NewScanner(p.stdout)
	// stream-json lines can be large when tool results are embedded
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		for _, ev := range translateStreamLine(line, &result) {
			select {
			case p.events <- ev:
			case <-p.ctx.Done():
				p.finish(result)
				return
			}
		}
	}

	p.finish(result)
}

// finish waits for process exit and emits the terminal event. Must only be
// called from run.
func (p *cliProcess) finish(result streamResult) {
	// Let stderr drain before Wait closes the pipe. Bounded, because an
	// orphaned grandchild can hold the write end open indefinitely.
	select {
	case <-p.stderrDone:
	case <-time.After(2 * time.Second):
	}

	waitErr := p.cmd.Wait()

	terminal := Event{Terminal: true}
	switch {
	case p.ctx.Err() != nil:
		terminal.Err = fmt.Sprintf("agent canceled: %v", p.ctx.Err())
	case waitErr != nil:
		terminal.Err = fmt.Sprintf("agent exited with error: %v", waitErr)
		if stderr := p.Stderr(); stderr != "" {
			terminal.Err += "; stderr: " + tail(stderr, 500)
		}
	case result.isError:
		terminal.Err = result.message
		if terminal.Err == "" {
			terminal.Err = "agent reported failure"
		}
	default:
		terminal.Success = true
		terminal.Message = result.message
	}

	// Deliver the terminal event; fall back to a non-blocking send when the
	// run was canceled and nobody may be draining anymore
	select {
	case p.events <- terminal:
	case <-p.ctx.Done():
		select {
		case p.events <- terminal:
		default:
		}
	}
}

// collectStderr accumulates stderr for failure diagnostics.
func (p *cliProcess) collectStderr() {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(p.stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.stderrBuf = append(p.stderrBuf, line...)
		p.stderrBuf = append(p.stderrBuf, '\n')
		p.mu.Unlock()
	}
}

// Events returns the event stream.
func (p *cliProcess) Events() <-chan Event {
	return p.events
}

// Cancel sends an interrupt so the agent can wind down cooperatively.
func (p *cliProcess) Cancel() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt agent process: %w", err)
	}
	return nil
}

// Kill terminates the process immediately.
func (p *cliProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		p.cancel()
		if p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

// PID returns the subprocess ID, or 0 before start.
func (p *cliProcess) PID() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// Done is closed once the terminal event has been emitted.
func (p *cliProcess) Done() <-chan struct{} {
	return p.done
}

// Stderr returns captured stderr output.
func (p *cliProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stderrBuf)
}

// streamLine is one line of claude CLI stream-json output.
type streamLine struct {
	Type    string         `json:"type"`
	Subtype string         `json:"subtype,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
	Result  string         `json:"result,omitempty"`
	Message *streamMessage `json:"message,omitempty"`
}

type streamMessage struct {
	Role    string               `json:"role,omitempty"`
	Content []streamContentBlock `json:"content,omitempty"`
}

type streamContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// streamResult accumulates the final result line, if the CLI emitted one.
type streamResult struct {
	seen    bool
	isError bool
	message string
}

// translateStreamLine turns one stream-json line into zero or more Events.
// Progress markers in assistant text become phase events; tool use becomes
// heartbeat events; the result line is folded into the terminal event later.
// Malformed lines are skipped.
func translateStreamLine(line []byte, result *streamResult) []Event {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil
	}

	switch sl.Type {
	case "assistant":
		if sl.Message == nil {
			return nil
		}
		var events []Event
		for _, block := range sl.Message.Content {
			switch block.Type {
			case "text":
				events = append(events, eventsFromText(block.Text)...)
			case "tool_use":
				if action := formatToolAction(block.Name, block.Input); action != "" {
					events = append(events, Event{Message: action})
				}
			}
		}
		return events
	case "result":
		result.seen = true
		result.isError = sl.IsError
		result.message = sl.Result
	}
	return nil
}

// eventsFromText extracts progress marker events from assistant text.
func eventsFromText(text string) []Event {
	var events []Event
	for _, line := range strings.Split(text, "\n") {
		if ev, ok := ParseProgressMarker(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// formatToolAction renders a tool_use block as a short status line.
func formatToolAction(name string, input json.RawMessage) string {
	var args struct {
		FilePath string `json:"file_path"`
		Command  string `json:"command"`
		Pattern  string `json:"pattern"`
	}
	// Best effort; an empty struct still yields a usable generic line
	_ = json.Unmarshal(input, &args)

	switch name {
	case "Read":
		return "Reading " + displayName(args.FilePath, "file")
	case "Edit":
		return "Editing " + displayName(args.FilePath, "file")
	case "Write":
		return "Writing " + displayName(args.FilePath, "file")
	case "Bash":
		if args.Command != "" {
			return "Running " + truncate(firstWord(args.Command), 20)
		}
		return "Running command"
	case "Glob", "Grep":
		if args.Pattern != "" {
			return "Searching " + truncate(args.Pattern, 20)
		}
		return "Searching code"
	case "WebFetch":
		return "Fetching URL"
	case "Task":
		return "Running subagent"
	default:
		return name
	}
}

// displayName reduces a path to a short displayable file name.
func displayName(path, fallback string) string {
	if path == "" {
		return fallback
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return truncate(path, 20)
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \n"); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// tail returns the last n bytes of s, for compact error reporting.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
