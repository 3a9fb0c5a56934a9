package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/techs-targe/PromptRig-sub001/internal/tools"
)

// MockExecutor implements tools.Executor with canned results and call
// recording. Results maps tool name to returned content; missing names
// return a generic result unless FailUnknown is set.
type MockExecutor struct {
	mu          sync.Mutex
	Schemas     []tools.Schema
	Results     map[string]string
	Errs        map[string]error // tool name -> hard error from ExecuteTool
	FailUnknown bool
	Executed    []string // tool names in execution order
}

func (m *MockExecutor) ListTools(_ context.Context) ([]tools.Schema, error) {
	return m.Schemas, nil
}

func (m *MockExecutor) ExecuteTool(_ context.Context, name string, _ map[string]interface{}) (*tools.Result, error) {
	m.mu.Lock()
	m.Executed = append(m.Executed, name)
	m.mu.Unlock()

	if err, ok := m.Errs[name]; ok {
		return nil, err
	}
	if content, ok := m.Results[name]; ok {
		return &tools.Result{Content: content}, nil
	}
	if m.FailUnknown {
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	}
	return &tools.Result{Content: "ok"}, nil
}

// ExecutedTools returns the executed tool names in order.
func (m *MockExecutor) ExecutedTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Executed))
	copy(out, m.Executed)
	return out
}
