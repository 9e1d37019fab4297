// Package llmtransport is the collaborator boundary between the
// orchestration engine and whichever LLM API backs it.
//
// Grounded on the teacher's internal/ai package (router.go's AIClient
// interface and per-provider rate limiting), generalized into a single
// narrow interface matching this engine's actual need — one blocking
// invocation per iteration with a tool-call log and token usage, not a
// multi-provider routing layer — since this engine talks to one configured
// backend per run rather than failing over between vendors.
package llmtransport

import (
	"context"
	"time"
)

// ToolCall is one tool invocation the model requested and its outcome, as
// reported back to the caller so it can be appended to the audit log.
type ToolCall struct {
	Name      string
	Arguments map[string]string
	Result    string
	Err       error
	Start     time.Time
	Duration  time.Duration
}

// TokenUsage reports consumption for one Invoke call.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Tool describes one tool the model may call during an invocation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema-shaped parameter spec
}

// Result is the outcome of one Invoke call.
type Result struct {
	FinalText string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// ToolHandler executes one tool call in place, filling in its Result/Err,
// so Invoke can feed the outcome back to the model and keep going. The
// tool-calling loop is internal to one Invoke call (an Iteration is one LLM
// invocation with its internal tool-calling loop, §3) — handler is called
// once per tool call the model requests, possibly several times across one
// Invoke, never after Invoke returns.
type ToolHandler func(ctx context.Context, call *ToolCall)

// Transport is the collaborator boundary for invoking an LLM with a prompt
// and a set of callable tools. Implementations must honor ctx cancellation
// and the supplied timeout (§4.K: every LLM invocation has a bounded
// timeout), and must drive their own tool-calling loop via handler rather
// than returning unexecuted tool calls for the caller to dispatch.
type Transport interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string, tools []Tool, handler ToolHandler, timeout time.Duration) (Result, error)
}
