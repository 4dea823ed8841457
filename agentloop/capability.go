package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/martinemde/codepair/conversation"
	"github.com/martinemde/codepair/sandbox"
)

// RunProgramToolName is the tool both agents use to test code.
const RunProgramToolName = "compile_and_run_java"

// FormatResult flattens a sandbox result to the text the model sees.
// Deciding whether the output is acceptable is left to the model.
func FormatResult(r sandbox.Result) string {
	switch r.Outcome {
	case sandbox.OutcomeSuccess:
		return r.Stdout
	case sandbox.OutcomeCompileFailure:
		return "Compilation failed:\n" + r.Diagnostic
	default:
		return "Execution failed: " + r.Detail
	}
}

// RunProgramTool exposes sb as a single text-in/text-out tool. Every call
// runs in its own invocation directory.
func RunProgramTool(sb *sandbox.Sandbox) RegisteredTool {
	tc := sb.Toolchain()
	return RegisteredTool{
		Definition: ToolDefinition{
			Name: RunProgramToolName,
			Description: fmt.Sprintf("Compile and run a complete program with the %s toolchain. "+
				"The entry point must be named Main (source file %s). "+
				"Returns the program's stdout, or the compiler or runtime error.", tc.Name, tc.SourceFile),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "Full program source.",
					},
					"input": map[string]any{
						"type":        "string",
						"description": "Text written to the program's standard input.",
					},
				},
				"required": []string{"code"},
			},
		},
		Executor: func(ctx context.Context, caller string, arguments json.RawMessage) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			code, ok := GetStringArg(args, "code")
			if !ok || code == "" {
				return ToolOutput{}, fmt.Errorf("missing required argument %q", "code")
			}
			input, _ := GetStringArg(args, "input")

			id := uuid.New().String()
			result := sb.Run(ctx, id, code, input)
			text := FormatResult(result)
			return ToolOutput{
				Content: text,
				IsError: !result.Succeeded(),
				Invocation: &conversation.ToolInvocation{
					ID:      id,
					Agent:   caller,
					Tool:    RunProgramToolName,
					Program: code,
					Stdin:   input,
					Output:  text,
					Result:  result,
				},
			}, nil
		},
	}
}
