package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
)

var tracer = prigotel.Tracer("github.com/techs-targe/PromptRig-sub001/internal/tools")

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 wire types, client side.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      string      `json:"id"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// MCPClient is the remote Executor backend: tools/list and tools/call
// against an MCP server over JSON-RPC 2.0 HTTP POST.
type MCPClient struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewMCPClient creates a client for the given MCP endpoint. token may be
// empty when the server does not require auth.
func NewMCPClient(endpoint, token string, timeout time.Duration) *MCPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPClient{
		endpoint:   endpoint,
		authToken:  token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type toolsListResult struct {
	Tools []Schema `json:"tools"`
}

// ListTools fetches the server's tool schemas.
func (c *MCPClient) ListTools(ctx context.Context) ([]Schema, error) {
	ctx, span := tracer.Start(ctx, "mcp.client.tools.list")
	defer span.End()

	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}
	span.SetAttributes(attribute.Int("tools.count", len(result.Tools)))
	return result.Tools, nil
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type toolsCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// ExecuteTool invokes one tool on the server. RPC-level errors become Go
// errors; tool-level failures come back as an error Result.
func (c *MCPClient) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	ctx, span := tracer.Start(ctx, "mcp.client.tools.call")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	raw, err := c.call(ctx, "tools/call", &toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			if rpcErr.Code == codeMethodNotFound {
				return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
			}
			err = fmt.Errorf("%w: %s", ErrToolFailed, rpcErr.Message)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/call result: %w", err)
	}
	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	return &Result{Content: sb.String(), IsError: result.IsError}, nil
}

// Standard JSON-RPC 2.0 error codes the client distinguishes.
const (
	codeMethodNotFound = -32601
)

func (c *MCPClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(&jsonrpcRequest{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(limited)))
	}

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
