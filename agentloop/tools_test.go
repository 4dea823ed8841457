package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/martinemde/codepair/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolRegistry(t *testing.T) {
	noop := func(ctx context.Context, caller string, args json.RawMessage) (ToolOutput, error) {
		return ToolOutput{Content: caller}, nil
	}
	r := NewToolRegistry(
		RegisteredTool{Definition: ToolDefinition{Name: "zeta"}, Executor: noop},
		RegisteredTool{Definition: ToolDefinition{Name: "alpha"}, Executor: noop},
	)
	assert.Nil(t, r.Get("missing"))

	defs := r.ToUnifiedLLMToolDefs()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)

	r.Register(RegisteredTool{Definition: ToolDefinition{Name: "zeta", Description: "replaced"}, Executor: noop})
	require.Len(t, r.Definitions(), 2)
	assert.Equal(t, "replaced", r.Get("zeta").Definition.Description)

	out, err := r.Get("zeta").Executor(context.Background(), "me", nil)
	require.NoError(t, err)
	assert.Equal(t, "me", out.Content)
}

func TestToolArguments(t *testing.T) {
	args, err := ParseToolArguments(json.RawMessage(`{"code":"x","n":3}`))
	require.NoError(t, err)

	s, ok := GetStringArg(args, "code")
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = GetStringArg(args, "n")
	assert.False(t, ok)

	empty, err := ParseToolArguments(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseToolArguments(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "16\n", FormatResult(sandbox.Success("16\n")))
	assert.Equal(t, "Compilation failed:\nMain.java:1: error", FormatResult(sandbox.CompileFailure("Main.java:1: error")))
	assert.Equal(t, "Execution failed: The input is of an incorrect type.",
		FormatResult(sandbox.RuntimeFailure(sandbox.KindTypeMismatch, "The input is of an incorrect type.")))
}

func TestRunProgramToolUsesFreshInvocations(t *testing.T) {
	tool := RunProgramTool(shellSandbox(t))
	assert.Equal(t, RunProgramToolName, tool.Definition.Name)
	assert.Contains(t, tool.Definition.Description, "Main")

	args, _ := json.Marshal(map[string]string{"code": squareScript, "input": "7"})
	first, err := tool.Executor(context.Background(), "Coding_Agent", args)
	require.NoError(t, err)
	second, err := tool.Executor(context.Background(), "Coding_Agent", args)
	require.NoError(t, err)

	assert.Equal(t, "49", strings.TrimSpace(first.Content))
	assert.False(t, first.IsError)
	require.NotNil(t, first.Invocation)
	require.NotNil(t, second.Invocation)
	assert.NotEqual(t, first.Invocation.ID, second.Invocation.ID)
	assert.Equal(t, "Coding_Agent", first.Invocation.Agent)
	assert.Equal(t, first.Content, first.Invocation.Output)
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)

	assert.Equal(t, "short", TruncateOutput("short", 10, TruncateHeadTail))

	ht := TruncateOutput(long, 20, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(ht, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(ht, strings.Repeat("b", 10)))
	assert.Contains(t, ht, "80 characters were removed from the middle")

	tail := TruncateOutput(long, 20, TruncateTail)
	assert.True(t, strings.HasSuffix(tail, strings.Repeat("b", 20)))
	assert.Contains(t, tail, "First 80 characters were removed")
}

func TestTruncateLines(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, string(rune('0'+i)))
	}
	out := TruncateLines(strings.Join(lines, "\n"), 4)
	assert.Equal(t, "0\n1\n[... 6 lines omitted ...]\n8\n9", out)
	assert.Equal(t, "a\nb", TruncateLines("a\nb", 4))
}

func TestTruncateToolOutputOverrides(t *testing.T) {
	out := strings.Repeat("x", 100)
	assert.Equal(t, out, TruncateToolOutput(out, RunProgramToolName, nil, nil))

	limited := TruncateToolOutput(out, RunProgramToolName, map[string]int{RunProgramToolName: 10}, nil)
	assert.Contains(t, limited, "WARNING")
	assert.Less(t, strings.Count(limited, "x"), 100)
}

func TestDetectLoop(t *testing.T) {
	a, b, c := "a", "b", "c"
	tests := []struct {
		name   string
		sigs   []string
		window int
		want   bool
	}{
		{"too few", []string{a, a}, 4, false},
		{"single repeat", []string{a, a, a, a}, 4, true},
		{"pair repeat", []string{a, b, a, b}, 4, true},
		{"triple repeat", []string{a, b, c, a, b, c}, 6, true},
		{"no pattern", []string{a, b, c, a}, 4, false},
		{"only tail counts", []string{c, a, a, a}, 3, true},
		{"zero window", []string{a, a}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLoop(tt.sigs, tt.window))
		})
	}
	assert.Equal(t, toolCallSignature("run", json.RawMessage(`{"a":1}`)), toolCallSignature("run", json.RawMessage(`{"a":1}`)))
	assert.NotEqual(t, toolCallSignature("run", json.RawMessage(`{"a":1}`)), toolCallSignature("run", json.RawMessage(`{"a":2}`)))
}
