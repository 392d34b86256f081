// Package unifiedllm is the model-service boundary: a provider-agnostic
// request/response shape, a Client that routes requests to provider adapters
// through middleware, and the adapters themselves.
//
// Two adapters are provided. AnthropicAdapter speaks the Messages API with
// native tool use through the official SDK. GollmAdapter wraps
// github.com/teilomillet/gollm so any provider gollm supports can drive the
// agent; tool calls are recovered from the generated text.
//
// Using the Client directly:
//
//	adapter := unifiedllm.NewAnthropicAdapter(os.Getenv("ANTHROPIC_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("anthropic", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "sonnet",
//	    System:   "You are a coding agent.",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//
// Responses carry a normalized StopReason: StopToolRequested when the model
// is waiting for tool results, StopNaturalEnd when it finished, StopOther
// for everything else.
package unifiedllm
