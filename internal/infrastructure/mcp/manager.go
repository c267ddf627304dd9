// Package mcp implements the MCP (remote-tool) collaborator (§6 MCP
// interface): it discovers configured servers, opens a transport-specific
// client per server, lists each server's tools, and dispatches calls by
// (serverName, originalToolName, argumentsMap). Grounded on the teacher's
// tool.MCPManager/MCPAdapter (HTTP JSON-RPC, config-file persistence) and
// on RevittCo-mcplexer's downstream.Instance (stdio subprocess transport,
// required per §6 where the teacher only ever spoke HTTP).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
	"github.com/safeclaw/safeclaw/internal/domain/service"
)

var dangerousKeywords = []string{
	"delete", "remove", "write", "exec", "shell", "kill", "drop", "modify",
	"update", "send", "post", "payment", "charge", "format", "rm", "deploy",
	"publish", "push", "create", "install",
}

var safeKeywords = []string{
	"read", "list", "get", "search", "query", "lookup", "describe", "view",
	"show", "fetch",
}

type connectedServer struct {
	name      string
	transport transport
	tools     []toolDef
}

// Manager owns every connected MCP server for the lifetime of one awake
// session; Connect opens clients at wake, Close tears them down at sleep
// (§4.6 registerRemote/clearRemote side effects), satisfying
// service.RemoteDispatcher in between.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*connectedServer
	logger  *zap.Logger
}

// NewManager creates an empty Manager; call Connect to populate it.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{servers: make(map[string]*connectedServer), logger: logger}
}

var _ service.RemoteDispatcher = (*Manager)(nil)

// Connect reads configPath, opens a client per enabled server
// concurrently via errgroup (§5 "multiple remote-tool connections are
// initiated concurrently during wake"), and returns the discovered tool
// catalog as ToolDefinitions ready for ToolRegistry.RegisterRemote. A
// single server's connect/discover failure is logged and does not abort
// the others.
func (m *Manager) Connect(ctx context.Context, configPath string) ([]entity.ToolDefinition, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	type discovered struct {
		name  string
		conn  *connectedServer
		tools []entity.ToolDefinition
	}
	results := make([]*discovered, len(cfg.Servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range cfg.Servers {
		i, srv := i, srv
		if !srv.Enabled {
			continue
		}
		g.Go(func() error {
			conn, defs, err := m.connectOne(gctx, srv)
			if err != nil {
				m.logger.Warn("MCP server connect failed",
					zap.String("server", srv.Name), zap.Error(err))
				return nil // do not abort sibling connects
			}
			results[i] = &discovered{name: srv.Name, conn: conn, tools: defs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var all []entity.ToolDefinition
	for _, r := range results {
		if r == nil {
			continue
		}
		m.servers[r.name] = r.conn
		all = append(all, r.tools...)
	}
	return all, nil
}

func (m *Manager) connectOne(ctx context.Context, srv ServerConfig) (*connectedServer, []entity.ToolDefinition, error) {
	var t transport
	var err error
	switch strings.ToLower(srv.Transport) {
	case "", "stdio":
		env := os.Environ()
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		t, err = newStdioTransport(ctx, srv.Command, srv.Args, env)
	case "http":
		t = newHTTPTransport(srv.Endpoint)
	case "ws", "websocket":
		t, err = newWSTransport(ctx, srv.Endpoint)
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", srv.Transport)
	}
	if err != nil {
		return nil, nil, err
	}

	raw, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		_ = t.close()
		return nil, nil, fmt.Errorf("tools/list: %w", err)
	}
	tools, err := decodeToolsList(raw)
	if err != nil {
		_ = t.close()
		return nil, nil, err
	}

	defs := make([]entity.ToolDefinition, 0, len(tools))
	for _, td := range tools {
		if err := validateSchema(td.InputSchema); err != nil {
			m.logger.Warn("MCP tool has an invalid input schema, skipping",
				zap.String("server", srv.Name), zap.String("tool", td.Name), zap.Error(err))
			continue
		}
		defs = append(defs, entity.ToolDefinition{
			Name:               service.QualifyMCPName(srv.Name, td.Name),
			Description:        td.Description,
			Dangerous:          classifyDanger(td.Name, td.Description),
			Status:             entity.StatusDisabled,
			Provenance:         entity.ProvenanceRemote,
			RemoteServer:       srv.Name,
			RemoteOriginalName: td.Name,
			RemoteSchema:       td.InputSchema,
		})
	}

	return &connectedServer{name: srv.Name, transport: t, tools: tools}, defs, nil
}

// Call implements service.RemoteDispatcher, dispatching by
// (serverName, originalToolName, argumentsMap) and returning the text
// serialization of the MCP response's content parts.
func (m *Manager) Call(ctx context.Context, server, tool string, args map[string]interface{}) (string, error) {
	m.mu.RLock()
	conn, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("MCP server %q is not connected", server)
	}

	params := map[string]interface{}{"name": tool, "arguments": args}
	raw, err := conn.transport.call(ctx, "tools/call", params)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", server, tool, err)
	}
	return decodeToolsCall(raw)
}

// Close disconnects every server (§4.6 clearRemote side effect on sleep).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.servers {
		if err := conn.transport.close(); err != nil {
			m.logger.Warn("MCP server disconnect error", zap.String("server", name), zap.Error(err))
		}
	}
	m.servers = make(map[string]*connectedServer)
}

// classifyDanger implements the §6 danger heuristic: keyword presence in
// name+description. When ambiguous (neither list matches), default to
// dangerous.
func classifyDanger(name, description string) bool {
	haystack := strings.ToLower(name + " " + description)
	for _, kw := range dangerousKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	for _, kw := range safeKeywords {
		if strings.Contains(haystack, kw) {
			return false
		}
	}
	return true
}

// validateSchema compiles a server-provided input schema to confirm it is
// a well-formed JSON Schema before the tool is handed to the Provider as a
// function-calling schema (§4.2).
func validateSchema(schema map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if _, err := jsonschema.CompileString("schema.json", string(raw)); err != nil {
		return err
	}
	return nil
}
