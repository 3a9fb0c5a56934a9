package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is the interface in-process tools implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Registry is the in-process Executor backend. Thread-safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListTools returns all registered tool schemas, sorted by name for a
// stable model-facing order.
func (r *Registry) ListTools(_ context.Context) ([]Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ExecuteTool runs the named tool. Tool-level failures come back as an
// error Result, not a Go error, so the model can react to them.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	content, err := t.Execute(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: content}, nil
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName   string
	ToolDesc   string
	ToolSchema json.RawMessage
	Fn         func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (f *FuncTool) Name() string                 { return f.ToolName }
func (f *FuncTool) Description() string          { return f.ToolDesc }
func (f *FuncTool) InputSchema() json.RawMessage { return f.ToolSchema }

func (f *FuncTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return f.Fn(ctx, args)
}
