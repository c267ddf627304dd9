package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// rpcRequest/rpcResponse are the MCP wire shapes (JSON-RPC 2.0), grounded
// on the teacher's mcp_adapter.go jsonRPCRequest/jsonRPCResponse.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDef `json:"tools"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []contentPart `json:"content"`
	IsError bool          `json:"isError"`
}

// transport is one connected MCP server, regardless of wire: stdio is
// the required transport (§6); http/ws are optional and may be no-ops
// when a server config doesn't specify them.
type transport interface {
	call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	close() error
}

func decodeToolsList(raw json.RawMessage) ([]toolDef, error) {
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

func decodeToolsCall(raw json.RawMessage) (string, error) {
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	if result.IsError {
		if len(result.Content) > 0 {
			return "", fmt.Errorf("tool error: %s", result.Content[0].Text)
		}
		return "", fmt.Errorf("tool returned an error with no message")
	}
	var text string
	for _, part := range result.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	return text, nil
}
