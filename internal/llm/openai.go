package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
)

var tracer = prigotel.Tracer("github.com/techs-targe/PromptRig-sub001/internal/llm")

// OpenAIProvider implements Provider for the OpenAI Chat Completions API,
// covering both the conventional family (gpt-4o etc., configurable
// temperature + max_tokens) and the reasoning family (o1/o3/o4, fixed
// sampling temperature + max_completion_tokens). The family branch is
// internal: callers build the same Request either way.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider with the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// NewOpenAIProviderWithBaseURL creates a provider against a compatible
// endpoint (used by tests and self-hosted gateways).
func NewOpenAIProviderWithBaseURL(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// isReasoningModel reports whether the model belongs to the reasoning
// family, which rejects custom temperature and the max_tokens parameter.
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4")
}

// Generate sends a chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "llm.openai.generate",
		trace.WithAttributes(prigotel.LLMRequestAttributes("openai", req.Model, req.Temperature, req.MaxTokens)...))
	defer span.End()

	timeout := TimeoutLLMCall
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
		Tools:    toOpenAITools(req.Tools),
	}
	if isReasoningModel(req.Model) {
		// Reasoning models accept only the default temperature and use a
		// distinct token-limit parameter.
		oreq.MaxCompletionTokens = req.MaxTokens
	} else {
		oreq.Temperature = float32(req.Temperature)
		oreq.MaxTokens = req.MaxTokens
	}

	oresp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(oresp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := oresp.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  oresp.Usage.PromptTokens,
		OutputTokens: oresp.Usage.CompletionTokens,
		Model:        oresp.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			// Malformed argument JSON becomes an empty map; the policy
			// engine still sees the call and the validator its shape.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	span.SetAttributes(prigotel.LLMUsageAttributes(resp.InputTokens, resp.OutputTokens)...)
	span.SetAttributes(prigotel.GenAIResponseFinishReason.String(resp.FinishReason))
	return resp, nil
}

func toOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			argJSON, err := json.Marshal(tc.Arguments)
			if err != nil {
				argJSON = []byte("{}")
			}
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argJSON),
				},
			})
		}
		msgs = append(msgs, om)
	}
	return msgs
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
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

// openaiPrices is USD per 1M tokens: input, output.
var openaiPrices = map[string][2]float64{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"o1":          {15.00, 60.00},
	"o3-mini":     {1.10, 4.40},
}

// EstimateCost estimates the cost in USD for the given model and token counts.
func (p *OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := openaiPrices[model]
	if !ok {
		for prefix, pr := range openaiPrices {
			if strings.HasPrefix(model, prefix) {
				prices = pr
				ok = true
				break
			}
		}
	}
	if !ok {
		prices = [2]float64{2.50, 10.00}
	}
	return float64(inputTokens)/1e6*prices[0] + float64(outputTokens)/1e6*prices[1]
}
