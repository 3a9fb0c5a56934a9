// Package testutil provides shared test helpers and mocks.
package testutil

import (
	"context"
	"sync"

	"github.com/techs-targe/PromptRig-sub001/internal/llm"
)

// MockProvider implements llm.Provider for tests without live API calls.
// When Content is empty, Generate returns "mock response". Set Err to
// simulate provider failures.
type MockProvider struct {
	ProviderName string
	Content      string
	Err          error
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "openai"
	}
	return m.ProviderName
}

func (m *MockProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Content
	if content == "" {
		content = "mock response"
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 20,
		Model:        req.Model,
	}, nil
}

func (m *MockProvider) EstimateCost(_ string, _, _ int) float64 { return 0.001 }

// ScriptedProvider implements llm.Provider for agent-loop tests. It
// returns a configured sequence of responses (tool-call batches then a
// final answer), records every request for assertions, and can fail on a
// specific call.
type ScriptedProvider struct {
	mu               sync.Mutex
	Responses        []*llm.Response // call N gets Responses[N], or the last one when exhausted
	CallCount        int
	ReceivedMessages [][]llm.Message
	ReceivedTools    [][]llm.Tool
	ErrOnCall        int   // 1-based; 0 = never
	Err              error // returned when ErrOnCall is hit
}

func (p *ScriptedProvider) Name() string { return "openai" }

func (p *ScriptedProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.CallCount++
	call := p.CallCount

	msgCopy := make([]llm.Message, len(req.Messages))
	copy(msgCopy, req.Messages)
	p.ReceivedMessages = append(p.ReceivedMessages, msgCopy)
	toolCopy := make([]llm.Tool, len(req.Tools))
	copy(toolCopy, req.Tools)
	p.ReceivedTools = append(p.ReceivedTools, toolCopy)

	resps := p.Responses
	errOnCall := p.ErrOnCall
	errReturn := p.Err
	p.mu.Unlock()

	if errOnCall > 0 && call == errOnCall && errReturn != nil {
		return nil, errReturn
	}
	if len(resps) == 0 {
		return &llm.Response{Content: "done", FinishReason: "stop", Model: req.Model}, nil
	}
	idx := call - 1
	if idx >= len(resps) {
		idx = len(resps) - 1
	}
	return resps[idx], nil
}

func (p *ScriptedProvider) EstimateCost(_ string, _, _ int) float64 { return 0.001 }

// Calls returns the number of Generate calls so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCount
}
