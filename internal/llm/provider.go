// Package llm abstracts completion services behind a single Provider
// interface with tool calling. Provider families differ in message-role
// shaping and sampling constraints (the reasoning family takes a fixed
// temperature and a distinct token-limit parameter); those differences
// live entirely inside the provider implementations so the agent loop
// never branches on family.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutLLMCall bounds a single completion call when the request does
// not carry its own timeout.
const TimeoutLLMCall = 120 * time.Second

// Domain errors for the llm package.
var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrUnknownModel         = errors.New("unknown model prefix")
	ErrEmptyResponse        = errors.New("provider returned empty response")
)

// Provider is the interface all completion services implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in USD for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Request represents one completion request.
type Request struct {
	Model          string
	System         string // system prompt, never included in Messages
	Messages       []Message
	Tools          []Tool
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int // 0 = TimeoutLLMCall
}

// Message is one chat message. Role is one of "user", "assistant", "tool".
// Assistant messages may carry tool calls; tool messages carry the result
// of the call identified by ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool is a tool schema passed to the completion service.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
}

// Response represents a completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}

// ToolCall is a request from the model to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// InferProvider determines the provider name from the model identifier.
// Fails closed on unrecognized prefixes.
func InferProvider(model string) (string, error) {
	switch {
	case hasAnyPrefix(model, "gpt-", "o1", "o3", "o4", "chatgpt-"):
		return "openai", nil
	case hasAnyPrefix(model, "claude-"):
		return "anthropic", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
