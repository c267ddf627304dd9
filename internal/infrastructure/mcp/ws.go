package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport speaks one JSON-RPC request/response per message over a
// persistent WebSocket connection. Optional transport alongside stdio
// (§6); uses the same gorilla/websocket dependency the teacher's TUI/live
// update path pulls in, repurposed here for the MCP side rather than an
// owner-facing push channel.
type wsTransport struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	reqID atomic.Int64
}

func newWSTransport(ctx context.Context, endpoint string) (*wsTransport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := int(t.reqID.Add(1))
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		_ = t.conn.SetReadDeadline(deadline)
	}

	if err := t.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	var resp rpcResponse
	if err := t.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("downstream error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}
