// Package agentloop implements the model-backed agents of a coding
// conversation.
//
// An Agent pairs a language model with a ToolRegistry and runs a tool loop
// for each conversation turn: it calls the model through unifiedllm,
// executes the tools the model asks for, truncates their output, feeds the
// results back, and repeats until the model answers in plain text. The
// answer, together with a record of every sandbox run, becomes the agent's
// conversation.Message.
//
// RunProgramTool exposes a sandbox.Sandbox as the single
// compile_and_run_java tool that both the coding and the critic agent use.
//
// # Quick Start
//
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("gemini", adapter))
//	tools := agentloop.NewToolRegistry(agentloop.RunProgramTool(sandbox.New(sandbox.DefaultConfig())))
//	coder := agentloop.New(client, tools, agentloop.DefaultConfig("Coding_Agent", agentloop.CoderPrompt))
//	critic := agentloop.New(client, tools, agentloop.DefaultConfig("Critic_Agent", agentloop.CriticPrompt))
//	orch := conversation.NewOrchestrator(coder, critic)
package agentloop
