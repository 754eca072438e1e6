package api

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/drydocklabs/drydock/internal/agent"
)

// defaultMaxIterations bounds the number of API round-trips per run.
const defaultMaxIterations = 50

// agentSystemPrompt frames the API-mode agent. The task, subtasks, and the
// progress marker protocol arrive in the user prompt, shared with CLI mode.
const agentSystemPrompt = `You are an autonomous coding agent. You work alone in a git worktree, complete every subtask you are given, and report progress with the marker protocol described in your instructions. Use the tools provided instead of asking questions.`

// messageCreator is the slice of the Anthropic SDK the loop needs.
// *anthropic.MessageService satisfies it.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Launcher runs agents in-process against the Anthropic API. It satisfies
// agent.Launcher, so the orchestrator drives API runs and claude CLI runs
// through the same contract.
type Launcher struct {
	client        *Client
	creator       messageCreator
	maxIterations int
}

// NewLauncher creates an API-mode launcher backed by the given client.
func NewLauncher(client *Client) *Launcher {
	return &Launcher{
		client:        client,
		creator:       &client.sdk().Messages,
		maxIterations: defaultMaxIterations,
	}
}

// Launch starts the agent loop for one task in its worktree.
func (l *Launcher) Launch(ctx context.Context, spec agent.LaunchSpec) (agent.Process, error) {
	if spec.WorkDir == "" {
		return nil, fmt.Errorf("launch agent: work dir is required")
	}
	if spec.Task == nil {
		return nil, fmt.Errorf("launch agent: task is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p := &apiProcess{
		creator:       l.creator,
		tracker:       l.client.Tracker(),
		model:         l.client.ResolveModel(anthropic.Model(spec.Model)),
		executor:      NewToolExecutor(spec.WorkDir),
		prompt:        agent.BuildPrompt(spec),
		maxIterations: l.maxIterations,
		ctx:           runCtx,
		cancel:        cancel,
		events:        make(chan agent.Event, 100),
		done:          make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// apiProcess is one in-flight API-mode run.
type apiProcess struct {
	creator       messageCreator
	tracker       *TokenTracker
	model         anthropic.Model
	executor      *ToolExecutor
	prompt        string
	maxIterations int

	ctx    context.Context
	cancel context.CancelFunc
	events chan agent.Event
	done   chan struct{}
}

var _ agent.Process = (*apiProcess)(nil)

func (p *apiProcess) run() {
	defer close(p.done)
	defer close(p.events)

	p.deliver(p.loop())
}

// loop is the call-tools-repeat cycle. It returns the terminal event.
func (p *apiProcess) loop() agent.Event {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(p.prompt)),
	}

	for i := 0; i < p.maxIterations; i++ {
		resp, err := p.creator.New(p.ctx, anthropic.MessageNewParams{
			Model:     p.model,
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: agentSystemPrompt},
			},
			Messages: messages,
			Tools:    ToolDefinitions(),
		})
		if err != nil {
			if p.ctx.Err() != nil {
				return agent.Event{Terminal: true, Err: fmt.Sprintf("agent canceled: %v", p.ctx.Err())}
			}
			return agent.Event{Terminal: true, Err: fmt.Sprintf("API call failed: %v", err)}
		}

		p.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResults []anthropic.ContentBlockParamUnion
		var text strings.Builder

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				p.emitMarkers(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				p.emit(agent.Event{Message: FormatToolAction(variant.Name, variant.Input)})
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				result := p.executor.Execute(p.ctx, variant.Name, variant.Input)
				toolResults = append(toolResults,
					anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			return agent.Event{Terminal: true, Success: true, Message: stripMarkers(text.String())}
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResults...))
		}
	}

	return agent.Event{Terminal: true, Err: fmt.Sprintf("agent did not finish within %d iterations", p.maxIterations)}
}

// emitMarkers scans assistant text for progress marker lines.
func (p *apiProcess) emitMarkers(text string) {
	for _, line := range strings.Split(text, "\n") {
		if ev, ok := agent.ParseProgressMarker(line); ok {
			p.emit(ev)
		}
	}
}

func (p *apiProcess) emit(ev agent.Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// deliver sends the terminal event. After cancellation the consumer may be
// gone, so fall back to a non-blocking send rather than hang.
func (p *apiProcess) deliver(ev agent.Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
		select {
		case p.events <- ev:
		default:
		}
	}
}

// stripMarkers drops marker lines from the final summary text.
func stripMarkers(text string) string {
	var keep []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), agent.ProgressMarkerPrefix) {
			continue
		}
		keep = append(keep, line)
	}
	return strings.TrimSpace(strings.Join(keep, "\n"))
}

func (p *apiProcess) Events() <-chan agent.Event {
	return p.events
}

// Cancel stops the run. The loop has no subprocess to signal, so graceful
// and forced stop both come down to canceling the context.
func (p *apiProcess) Cancel() error {
	p.cancel()
	return nil
}

func (p *apiProcess) Kill() error {
	p.cancel()
	return nil
}

// PID reports the orchestrator's own pid. An API run lives inside this
// process, so pid liveness checks after a crash give the right answer.
func (p *apiProcess) PID() int {
	return os.Getpid()
}

func (p *apiProcess) Done() <-chan struct{} {
	return p.done
}
