package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreagent/runtime/internal/config"
)

const listToolsTimeout = 10 * time.Second

// serverTool is one tool advertised by a connected upstream server, indexed
// by its fully-qualified name.
type serverTool struct {
	server string
	name   string
}

// Manager connects to every configured external tool server, aggregates
// their tools under fully-qualified names, and implements
// tooldispatch.ExternalToolRouter and agent.McpToolLister. There is no
// local tool registration here: the in-process tools (shell, apply_patch,
// update_plan, view_image, exec_command/write_stdin) are dispatched
// directly by internal/tooldispatch, never proxied through MCP.
type Manager struct {
	mu              sync.RWMutex
	clients         map[string]*client
	tools           map[string]serverTool
	startupFailures []string
	log             zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		clients: make(map[string]*client),
		tools:   make(map[string]serverTool),
		log:     log,
	}
}

// Start spawns (connects to) every configured server, initializes each,
// then queries every server's tool list concurrently with a 10s timeout
// per server. Invalid server names and per-server connection/list
// failures are recorded as non-fatal startup failures rather than
// aborting the whole manager.
func (m *Manager) Start(ctx context.Context, servers map[string]config.MCPServerConfig) {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	clientInfo := map[string]interface{}{"name": "coreagent", "version": "0.1.0"}

	var connected []string
	for _, name := range names {
		if !validServerName(name) {
			m.recordFailure(fmt.Sprintf("server %q: invalid name (must match ^[a-zA-Z0-9_-]+$)", name))
			continue
		}
		c := newClient(servers[name].Endpoint)
		if err := c.initialize(ctx, clientInfo); err != nil {
			m.recordFailure(fmt.Sprintf("server %q: %v", name, err))
			continue
		}
		m.mu.Lock()
		m.clients[name] = c
		m.mu.Unlock()
		connected = append(connected, name)
	}

	var wg sync.WaitGroup
	for _, name := range connected {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.listOneServer(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (m *Manager) listOneServer(ctx context.Context, name string) {
	m.mu.RLock()
	c := m.clients[name]
	m.mu.RUnlock()

	listCtx, cancel := context.WithTimeout(ctx, listToolsTimeout)
	defer cancel()

	tools, err := c.listTools(listCtx)
	if err != nil {
		m.recordFailure(fmt.Sprintf("server %q: list tools: %v", name, err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tools {
		qn := qualifiedName(name, t.Name)
		m.tools[qn] = serverTool{server: name, name: t.Name}
	}
}

func (m *Manager) recordFailure(msg string) {
	m.log.Warn().Str("component", "mcpbridge").Msg(msg)
	m.mu.Lock()
	m.startupFailures = append(m.startupFailures, msg)
	m.mu.Unlock()
}

// StartupFailures returns every non-fatal startup failure recorded by Start.
func (m *Manager) StartupFailures() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.startupFailures))
	copy(out, m.startupFailures)
	return out
}

// Recognizes implements tooldispatch.ExternalToolRouter.
func (m *Manager) Recognizes(qualifiedName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tools[qualifiedName]
	return ok
}

// CallTool implements tooldispatch.ExternalToolRouter: it invokes the
// named external tool and converts the MCP result into a FunctionCallOutput
// shape, preferring structured_content over serialized content, with
// success = !is_error.
func (m *Manager) CallTool(ctx context.Context, qualifiedName, argumentsJSON string) (string, bool, error) {
	m.mu.RLock()
	tool, ok := m.tools[qualifiedName]
	var c *client
	if ok {
		c = m.clients[tool.server]
	}
	m.mu.RUnlock()
	if !ok || c == nil {
		return "", false, fmt.Errorf("mcpbridge: unrecognized tool %q", qualifiedName)
	}

	result, err := c.callTool(ctx, tool.name, json.RawMessage(argumentsJSON))
	if err != nil {
		return "", false, err
	}

	if len(result.StructuredContent) > 0 && string(result.StructuredContent) != "null" {
		return string(result.StructuredContent), !result.IsError, nil
	}
	b, err := json.Marshal(result.Content)
	if err != nil {
		return "", false, err
	}
	return string(b), !result.IsError, nil
}

// ListToolNames implements agent.McpToolLister, returning every
// fully-qualified tool name sorted for prompt-cache determinism.
func (m *Manager) ListToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the sanitized input schema advertised for a qualified
// tool name, used by toolset assembly when building the tool list sent to
// the model.
func (m *Manager) Schema(ctx context.Context, qualifiedName string) (json.RawMessage, string, bool) {
	m.mu.RLock()
	tool, ok := m.tools[qualifiedName]
	var c *client
	if ok {
		c = m.clients[tool.server]
	}
	m.mu.RUnlock()
	if !ok || c == nil {
		return nil, "", false
	}
	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, "", false
	}
	for _, t := range tools {
		if t.Name == tool.name {
			return sanitizeSchema(t.InputSchema), t.Description, true
		}
	}
	return nil, "", false
}

// Close releases every connected client's idle HTTP connections.
func (m *Manager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		c.close()
	}
}
