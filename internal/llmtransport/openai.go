package llmtransport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAITransport invokes an OpenAI-compatible chat-completions endpoint
// via github.com/sashabaranov/go-openai, the teacher's own choice for its
// OpenAI provider client (internal/ai/router.go wires an analogous client
// per provider). Outbound calls are throttled by a token-bucket rate
// limiter (golang.org/x/time/rate) so a runaway iteration loop cannot burst
// past the configured request rate — the teacher enforces a comparable cap
// per-provider in its own rateLimiter type; this is the same idiom backed
// by the ecosystem library rather than a hand-rolled token bucket.
type OpenAITransport struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAITransport creates a Transport backed by model, limited to
// ratePerSecond requests per second with the given burst allowance.
func NewOpenAITransport(apiKey, model string, ratePerSecond float64, burst int) *OpenAITransport {
	return &OpenAITransport{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// maxToolLoopRounds bounds the internal tool-calling loop so a model that
// never stops requesting tools cannot hang an iteration forever.
const maxToolLoopRounds = 8

// Invoke sends a chat-completion request, waiting on the rate limiter
// first, bounded by timeout. Every tool call the model requests is executed
// immediately via handler and its outcome fed back to the model as a
// follow-up message, repeating until the model responds without requesting
// any further tools — the tool-calling loop is internal to this call (§3),
// so e.g. a verify_task_completion result is visible to the model before it
// decides whether to call update_task_status in the same invocation.
func (t *OpenAITransport) Invoke(ctx context.Context, systemPrompt, userPrompt string, tools []Tool, handler ToolHandler, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("llmtransport: rate limiter wait: %w", err)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}
	oaTools := toOpenAITools(tools)

	var calls []ToolCall
	var usage TokenUsage

	for round := 0; round < maxToolLoopRounds; round++ {
		resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    t.model,
			Messages: messages,
			Tools:    oaTools,
		})
		if err != nil {
			return Result{}, fmt.Errorf("llmtransport: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return Result{}, fmt.Errorf("llmtransport: empty response")
		}

		usage.PromptTokens += int64(resp.Usage.PromptTokens)
		usage.CompletionTokens += int64(resp.Usage.CompletionTokens)
		usage.TotalTokens += int64(resp.Usage.TotalTokens)

		choice := resp.Choices[0]
		if len(choice.Message.ToolCalls) == 0 {
			return Result{FinalText: choice.Message.Content, ToolCalls: calls, Usage: usage}, nil
		}

		messages = append(messages, choice.Message)

		for _, tc := range choice.Message.ToolCalls {
			args := map[string]string{}
			var raw map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &raw); err == nil {
				for k, v := range raw {
					args[k] = fmt.Sprintf("%v", v)
				}
			}
			call := ToolCall{Name: tc.Function.Name, Arguments: args, Start: time.Now()}
			if handler != nil {
				handler(ctx, &call)
			}
			call.Duration = time.Since(call.Start)
			calls = append(calls, call)

			content := call.Result
			if call.Err != nil {
				content = "error: " + call.Err.Error()
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	return Result{}, fmt.Errorf("llmtransport: exceeded %d tool-calling rounds without a final response", maxToolLoopRounds)
}
