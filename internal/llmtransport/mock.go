package llmtransport

import (
	"context"
	"time"
)

// Mock is a test double Transport returning a scripted sequence of Results.
type Mock struct {
	Results []Result
	Err     error
	calls   int
	Prompts []string // captures every userPrompt seen, for assertions
}

// Invoke returns the next scripted Result in sequence, or the last one if
// exhausted. Records the prompt for test assertions. Runs handler over any
// scripted ToolCalls first, the same as a real Transport would, so tests
// exercising the orchestrator's tool dispatch still see it invoked.
func (m *Mock) Invoke(ctx context.Context, systemPrompt, userPrompt string, tools []Tool, handler ToolHandler, timeout time.Duration) (Result, error) {
	m.Prompts = append(m.Prompts, userPrompt)
	if m.Err != nil {
		return Result{}, m.Err
	}
	if len(m.Results) == 0 {
		return Result{}, nil
	}
	idx := m.calls
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	m.calls++

	result := m.Results[idx]
	if handler != nil {
		for i := range result.ToolCalls {
			handler(ctx, &result.ToolCalls[i])
		}
	}
	return result, nil
}
