package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/martinemde/codepair/conversation"
	"github.com/martinemde/codepair/unifiedllm"
)

// Completer is the slice of unifiedllm.Client an Agent needs.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// Config holds configuration for an Agent.
type Config struct {
	Name                string         `json:"name"`
	SystemPrompt        string         `json:"system_prompt"`
	Model               string         `json:"model,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	MaxToolRounds       int            `json:"max_tool_rounds"` // per turn, 0 = unlimited
	EnableLoopDetection bool           `json:"enable_loop_detection"`
	LoopDetectionWindow int            `json:"loop_detection_window"`
	ToolOutputLimits    map[string]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits      map[string]int `json:"tool_line_limits,omitempty"`
	Retry               unifiedllm.RetryPolicy
	Logger              *slog.Logger `json:"-"`
}

// DefaultConfig returns the defaults for an agent named name.
func DefaultConfig(name, systemPrompt string) Config {
	return Config{
		Name:                name,
		SystemPrompt:        systemPrompt,
		MaxToolRounds:       25,
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
		Retry:               unifiedllm.DefaultRetryPolicy(),
	}
}

// roundLimitNote is sent when an agent has used its tool rounds for the turn.
const roundLimitNote = "You have reached the tool call limit for this turn. Reply now with your conclusion, without calling tools."

// Agent is a model-backed conversation participant that may call tools
// repeatedly before answering. It implements conversation.Generator.
type Agent struct {
	cfg    Config
	client Completer
	tools  *ToolRegistry
	logger *slog.Logger
}

// New creates an agent. tools may be nil for an agent without tools.
func New(client Completer, tools *ToolRegistry, cfg Config) *Agent {
	if tools == nil {
		tools = NewToolRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, client: client, tools: tools, logger: logger.With("agent", cfg.Name)}
}

// Name returns the agent's conversation name.
func (a *Agent) Name() string { return a.cfg.Name }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *ToolRegistry { return a.tools }

// Generate runs the tool loop for one conversation turn: call the model,
// execute any requested tools, feed the results back, and repeat until the
// model answers in plain text.
func (a *Agent) Generate(ctx context.Context, transcript []conversation.Message) (conversation.Message, error) {
	messages := append([]unifiedllm.Message{unifiedllm.SystemMessage(a.cfg.SystemPrompt)}, a.render(transcript)...)

	var invocations []conversation.ToolInvocation
	var sigs []string
	tools := a.tools.ToUnifiedLLMToolDefs()

	for round := 0; ; round++ {
		if a.cfg.MaxToolRounds > 0 && round >= a.cfg.MaxToolRounds && len(tools) > 0 {
			a.logger.Warn("tool round limit reached", "rounds", round)
			messages = append(messages, unifiedllm.UserMessage(roundLimitNote))
			tools = nil
		}

		req := unifiedllm.Request{
			Model:       a.cfg.Model,
			Provider:    a.cfg.Provider,
			Messages:    messages,
			Tools:       tools,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
		}
		if len(tools) > 0 {
			req.ToolChoice = "auto"
		}

		resp, err := unifiedllm.Retry(ctx, a.cfg.Retry, func(ctx context.Context) (*unifiedllm.Response, error) {
			return a.client.Complete(ctx, req)
		})
		if err != nil {
			return conversation.Message{}, fmt.Errorf("%s: model call: %w", a.cfg.Name, err)
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 || len(tools) == 0 {
			return conversation.AgentMessage(a.cfg.Name, resp.Text(), invocations...), nil
		}

		messages = append(messages, unifiedllm.Message{
			Role:      unifiedllm.RoleAssistant,
			Content:   resp.Text(),
			ToolCalls: calls,
		})
		for _, call := range calls {
			out := a.executeTool(ctx, call)
			if out.Invocation != nil {
				invocations = append(invocations, *out.Invocation)
			}
			messages = append(messages, unifiedllm.ToolResultMessage(call.ID, out.Content, out.IsError))
			sigs = append(sigs, toolCallSignature(call.Name, call.Arguments))
		}

		if a.cfg.EnableLoopDetection && DetectLoop(sigs, a.cfg.LoopDetectionWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", a.cfg.LoopDetectionWindow)
			a.logger.Warn("loop detected", "window", a.cfg.LoopDetectionWindow)
			messages = append(messages, unifiedllm.UserMessage(warning))
			sigs = nil
		}
	}
}

// executeTool handles lookup, execution, and truncation. Tool failures are
// reported to the model, never returned as errors.
func (a *Agent) executeTool(ctx context.Context, call unifiedllm.ToolCall) ToolOutput {
	registered := a.tools.Get(call.Name)
	if registered == nil {
		return ToolOutput{Content: fmt.Sprintf("Unknown tool: %s", call.Name), IsError: true}
	}

	out, err := registered.Executor(ctx, a.cfg.Name, call.Arguments)
	if err != nil {
		a.logger.Info("tool error", "tool", call.Name, "error", err)
		return ToolOutput{Content: fmt.Sprintf("Tool error (%s): %v", call.Name, err), IsError: true}
	}
	out.Content = TruncateToolOutput(out.Content, call.Name, a.cfg.ToolOutputLimits, a.cfg.ToolLineLimits)
	return out
}

// render maps the shared transcript onto model messages from this agent's
// point of view. The agent's own turns become assistant messages; other
// speakers are labelled user turns, with their sandbox runs inlined so both
// agents see the same evidence.
func (a *Agent) render(transcript []conversation.Message) []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(transcript))
	for _, m := range transcript {
		switch {
		case m.Sender == a.cfg.Name:
			out = append(out, unifiedllm.AssistantMessage(withToolRuns(m)))
		case m.Sender == conversation.TaskSender && len(m.Tools) == 0:
			out = append(out, unifiedllm.UserMessage(m.Content))
		default:
			out = append(out, unifiedllm.NamedUserMessage(m.Sender, withToolRuns(m)))
		}
	}
	return out
}

func withToolRuns(m conversation.Message) string {
	if len(m.Tools) == 0 {
		return m.Content
	}
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, inv := range m.Tools {
		fmt.Fprintf(&sb, "\n\n[%s ran %s", inv.Agent, inv.Tool)
		if inv.Stdin != "" {
			fmt.Fprintf(&sb, " with input %q", inv.Stdin)
		}
		fmt.Fprintf(&sb, "]\n%s", inv.Output)
	}
	return sb.String()
}
