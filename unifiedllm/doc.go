// Package unifiedllm is a small provider-neutral model client used by the
// coding and review agents. It wraps github.com/teilomillet/gollm behind a
// ProviderAdapter so that agents can be tested against scripted adapters.
//
// The package has three layers:
//
//   - ProviderAdapter and the request/response types
//   - error taxonomy and Retry with exponential backoff
//   - Client, which routes requests by provider name and applies middleware
//
// Typical use:
//
//	adapter, err := unifiedllm.NewGollmAdapter("gemini",
//	    unifiedllm.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	    unifiedllm.WithModel("gemini-2.0-flash"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("gemini", adapter))
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Write a haiku")},
//	})
package unifiedllm
