package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// toolProtocol is appended to the system prompt when tools are offered.
// gollm returns plain text, so tool calls travel as a JSON object.
const toolProtocol = `To call a tool, reply with only a JSON object of the form
{"tool_calls": [{"name": "<tool name>", "arguments": {...}}]}
and nothing else. Tool results are returned to you prefixed with [Tool Result].`

// GollmAdapter implements ProviderAdapter on top of a gollm.LLM.
type GollmAdapter struct {
	provider string
	model    string
	llm      gollm.LLM
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the provider API key. When unset gollm reads it from the
// environment.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.model = model }
}

// WithMaxTokens sets the default output token cap.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.temperature = t }
}

// WithGollmOptions passes extra options straight to gollm.NewLLM.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter creates an adapter for provider.
func NewGollmAdapter(provider string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{maxTokens: 4096, temperature: 0.2}
	for _, opt := range opts {
		opt(cfg)
	}
	model := cfg.model
	if model == "" {
		model = defaultModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", provider, err)
	}
	return &GollmAdapter{provider: provider, model: model, llm: llm}, nil
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250514"
	case "gemini", "google":
		return "gemini-2.0-flash"
	default:
		return "gpt-4o-mini"
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete renders the conversation into a gollm prompt, generates, and
// parses any tool calls out of the returned text.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.buildPrompt(req)

	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

func (a *GollmAdapter) buildPrompt(req Request) *gollm.Prompt {
	system, body := renderConversation(req)

	var opts []gollm.PromptOption
	if len(req.Tools) > 0 {
		system = strings.TrimSpace(system + "\n\n" + toolProtocol)
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
		if req.ToolChoice != "" {
			opts = append(opts, gollm.WithToolChoice(req.ToolChoice))
		}
	}
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	return gollm.NewPrompt(body, opts...)
}

// renderConversation splits req into a system prompt and a single text body
// in which every turn is labelled with its speaker.
func renderConversation(req Request) (system, body string) {
	var sys []string
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			sys = append(sys, msg.Content)
		case RoleUser:
			if msg.Name != "" {
				parts = append(parts, fmt.Sprintf("[%s]: %s", msg.Name, msg.Content))
			} else {
				parts = append(parts, msg.Content)
			}
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Assistant tool call %s]: %s", tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}
	body = strings.Join(parts, "\n\n")
	if body == "" {
		body = "Hello"
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), body
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, remaining := parseToolCalls(text)
	msg := Message{Role: RoleAssistant, Content: remaining, ToolCalls: calls}
	finish := FinishStop
	if len(calls) > 0 {
		finish = FinishToolCalls
	}

	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      msg,
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

// parseToolCalls extracts a {"tool_calls": [...]} object or a bare
// [{"name": ...}] array from text. It returns the calls and the text that
// preceded them.
func parseToolCalls(text string) ([]ToolCall, string) {
	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raws []rawCall
	start := strings.Index(text, `{"tool_calls"`)
	if start >= 0 {
		var wrapper struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&wrapper); err != nil {
			return nil, text
		}
		raws = wrapper.ToolCalls
	} else if start = strings.Index(text, `[{"name"`); start >= 0 {
		if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&raws); err != nil {
			return nil, text
		}
	} else {
		return nil, text
	}

	var calls []ToolCall
	for _, r := range raws {
		if r.Name == "" {
			continue
		}
		args := r.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{ID: "call_" + uuid.New().String()[:8], Name: r.Name, Arguments: args})
	}
	if len(calls) == 0 {
		return nil, text
	}
	remaining := strings.TrimSpace(text[:start])
	remaining = strings.TrimSpace(strings.TrimSuffix(remaining, "```json"))
	return calls, remaining
}

// translateError classifies a gollm error by its message.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	pe := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider}

	switch {
	case containsAny(lower, "401", "unauthorized", "invalid key", "invalid api key"):
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	case containsAny(lower, "403", "forbidden"):
		pe.StatusCode = 403
		return &AccessDeniedError{ProviderError: pe}
	case containsAny(lower, "404", "not found"):
		pe.StatusCode = 404
		return &NotFoundError{ProviderError: pe}
	case containsAny(lower, "429", "rate limit"):
		pe.StatusCode, pe.Retryable = 429, true
		return &RateLimitError{ProviderError: pe}
	case containsAny(lower, "context length", "too many tokens"):
		pe.StatusCode = 413
		return &ContextLengthError{ProviderError: pe}
	case containsAny(lower, "500", "502", "503", "internal server", "unavailable"):
		pe.StatusCode, pe.Retryable = 500, true
		return &ServerError{ProviderError: pe}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case containsAny(lower, "content filter", "safety"):
		return &ContentFilterError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
