package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/martinemde/codepair/conversation"
	"github.com/martinemde/codepair/unifiedllm"
)

// ToolOutput is what a tool hands back to the agent loop. Content goes to
// the model; Invocation, when set, is attached to the agent's message.
type ToolOutput struct {
	Content    string
	IsError    bool
	Invocation *conversation.ToolInvocation
}

// ToolExecutor runs a tool on behalf of the named agent.
type ToolExecutor func(ctx context.Context, caller string, arguments json.RawMessage) (ToolOutput, error)

// ToolDefinition describes a tool for the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RegisteredTool pairs a tool definition with its executor.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates a registry holding tools.
func NewToolRegistry(tools ...RegisteredTool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]*RegisteredTool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name, so requests are
// stable across calls.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	slices.SortFunc(defs, func(a, b ToolDefinition) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return defs
}

// ToUnifiedLLMToolDefs converts registry definitions for a model request.
func (r *ToolRegistry) ToUnifiedLLMToolDefs() []unifiedllm.ToolDefinition {
	defs := r.Definitions()
	out := make([]unifiedllm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = unifiedllm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// ParseToolArguments unmarshals tool call arguments into a map.
func ParseToolArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
