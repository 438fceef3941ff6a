/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package mcp bridges external MCP (Model Context Protocol) tool servers
// into the subagent gateway's tool set (spec.md §4.5). It supplies the
// tool definitions and the invocation for every tool whose destination
// is an MCP server rather than a local command executor; the capability
// router does not filter that set.
//
// Transport: Streamable HTTP, the primary mode the SDK supports.
//
// Tool names are namespaced "mcp.<server>.<tool>" so they cannot collide
// with command-backed executor node types.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/swarm1/engine/internal/provider"
)

// ServerSpec is one MCP server's connection details, sourced from the
// engine's own configuration (spec.md's registry/policy YAML may list
// "mcp" as a tool destination for a capability; the server map behind it
// is operator-supplied).
type ServerSpec struct {
	Endpoint     string
	Capabilities []string
}

// ServerConnection represents a live connection to an MCP server.
type ServerConnection struct {
	Name         string
	Endpoint     string
	Capabilities []string
	Session      *mcpsdk.ClientSession
	Tools        []*mcpsdk.Tool
	Healthy      bool
	Error        error
}

// NoiseFilter can modify or suppress MCP tool results before they reach
// the gateway's tool-result turn.
type NoiseFilter func(serverName, toolName, result string) string

// Manager connects to one or more MCP servers, discovers their tools, and
// exposes them as an executor.ToolInvoker for the subagent gateway.
type Manager struct {
	log         logr.Logger
	client      *mcpsdk.Client
	connections map[string]*ServerConnection
	mu          sync.RWMutex

	httpTimeout  time.Duration
	NoiseFilters []NoiseFilter
}

// NewManager creates a Manager identifying itself to MCP servers as the
// swarm1 engine.
func NewManager(log logr.Logger) *Manager {
	return &Manager{
		log: log.WithName("mcp"),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{
				Name:    "swarm1",
				Version: "0.1.0",
			},
			nil,
		),
		connections: make(map[string]*ServerConnection),
		httpTimeout: 30 * time.Second,
	}
}

// ConnectAll connects to every configured MCP server. A server that fails
// to connect is recorded as unhealthy rather than failing the whole run —
// a node whose plan never routes to that server is unaffected.
func (m *Manager) ConnectAll(ctx context.Context, servers map[string]ServerSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, spec := range servers {
		conn := &ServerConnection{
			Name:         name,
			Endpoint:     spec.Endpoint,
			Capabilities: spec.Capabilities,
		}

		if err := m.connectOne(ctx, conn); err != nil {
			conn.Error = err
			conn.Healthy = false
			m.log.Error(err, "failed to connect to MCP server, degrading gracefully",
				"server", name, "endpoint", spec.Endpoint)
		}

		m.connections[name] = conn
	}

	return nil
}

func (m *Manager) connectOne(ctx context.Context, conn *ServerConnection) error {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: conn.Endpoint,
		HTTPClient: &http.Client{
			Timeout: m.httpTimeout,
		},
		DisableStandaloneSSE: true,
	}

	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", conn.Endpoint, err)
	}
	conn.Session = session

	result, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		conn.Healthy = true
		conn.Error = fmt.Errorf("list tools: %w", err)
		m.log.Error(err, "connected but failed to list tools", "server", conn.Name)
		return nil
	}

	conn.Tools = result.Tools
	conn.Healthy = true
	conn.Error = nil

	m.log.Info("connected to MCP server", "server", conn.Name, "endpoint", conn.Endpoint, "tools", len(conn.Tools))
	return nil
}

// Invoke calls a namespaced tool ("mcp.<server>.<tool>") and returns its
// text result. It satisfies executor.ToolInvoker's signature directly, so
// it can be passed to SubagentGatewayExecutor without an adapter.
func (m *Manager) Invoke(ctx context.Context, toolName string, args map[string]any) (string, error) {
	serverName, rawTool, ok := splitToolName(toolName)
	if !ok {
		return "", fmt.Errorf("mcp: not a namespaced tool name: %q", toolName)
	}

	m.mu.RLock()
	conn, ok := m.connections[serverName]
	m.mu.RUnlock()
	if !ok || conn.Session == nil {
		return "", fmt.Errorf("mcp: server %q not connected", serverName)
	}

	result, err := conn.Session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      rawTool,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %s/%s: %w", serverName, rawTool, err)
	}

	text := extractTextContent(result)
	for _, filter := range m.NoiseFilters {
		text = filter(serverName, rawTool, text)
		if text == "" {
			return "(filtered — no actionable content)", nil
		}
	}

	if result.IsError {
		return text, fmt.Errorf("mcp tool error: %s", text)
	}
	return text, nil
}

func splitToolName(name string) (server, tool string, ok bool) {
	const prefix = "mcp."
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, prefix)
	idx := strings.Index(rest, ".")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// ToolDefs returns every discovered tool across all connected servers as
// provider.ToolDefinition, namespaced "mcp.<server>.<tool>", ready to hand
// to the subagent gateway's LLM completion calls.
func (m *Manager) ToolDefs() []provider.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var defs []provider.ToolDefinition
	for _, conn := range m.connections {
		for _, tool := range conn.Tools {
			params, _ := tool.InputSchema.(map[string]interface{})
			if params == nil {
				params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
			}
			defs = append(defs, provider.ToolDefinition{
				Name:        fmt.Sprintf("mcp.%s.%s", conn.Name, tool.Name),
				Description: tool.Description,
				Parameters:  params,
			})
		}
	}
	return defs
}

// HealthCheck pings all connected servers and updates their health status.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]bool, len(m.connections))
	for name, conn := range m.connections {
		if conn.Session == nil {
			results[name] = false
			continue
		}
		err := conn.Session.Ping(ctx, &mcpsdk.PingParams{})
		healthy := err == nil
		conn.Healthy = healthy
		if err != nil {
			conn.Error = err
		}
		results[name] = healthy
	}
	return results
}

// Close closes all MCP server connections.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, conn := range m.connections {
		if conn.Session != nil {
			if err := conn.Session.Close(); err != nil {
				m.log.Error(err, "failed to close MCP session", "server", name)
			}
		}
	}
	m.connections = make(map[string]*ServerConnection)
}

// Connections returns a snapshot of all server connections, for status
// reporting (e.g. "engine emit-status").
func (m *Manager) Connections() map[string]*ServerConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*ServerConnection, len(m.connections))
	for k, v := range m.connections {
		result[k] = v
	}
	return result
}

func extractTextContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
