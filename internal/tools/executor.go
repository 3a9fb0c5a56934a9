// Package tools exposes tool execution to the agent loop behind one
// interface with two backends: an in-process registry and a remote MCP
// (JSON-RPC 2.0 over HTTP) client. The loop never knows which backend
// served a call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrToolFailed   = errors.New("tool execution failed")
)

// Schema describes one callable tool as advertised to the model.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Result is the outcome of one tool call. IsError marks tool-level
// failures that are reported back to the model rather than aborting the
// turn.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Executor is the backend-neutral execution surface.
type Executor interface {
	ListTools(ctx context.Context) ([]Schema, error)
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*Result, error)
}
