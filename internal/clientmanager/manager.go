// Package clientmanager owns the pool of tool-server clients keyed by
// name, their start/stop lifecycle, and a broadcast channel of
// lifecycle events for callers of Subscribe.
package clientmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"oatty/internal/mcpclient"
)

// EventKind discriminates a manager broadcast event.
type EventKind string

// EventToolsUpdated fires once a server's tool list has been (re)read.
const EventToolsUpdated EventKind = "ToolsUpdated"

// Event is published on the manager's broadcast channel.
type Event struct {
	Kind   EventKind
	Plugin string
	Tools  []mcp.Tool
}

// Manager is the reader-writer-disciplined pool of tool-server clients:
// lookup of a known client is a shared read; adding/removing a server
// is an exclusive write.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*mcpclient.Client
	configs map[string]mcpclient.ServerConfig

	subMu       sync.Mutex
	subscribers []chan Event
}

// New builds an empty client manager.
func New() *Manager {
	return &Manager{
		clients: map[string]*mcpclient.Client{},
		configs: map[string]mcpclient.ServerConfig{},
	}
}

// AddServer registers a server's configuration. It does not connect;
// the client is created lazily the first time EnsureStarted sees it.
func (m *Manager) AddServer(cfg mcpclient.ServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
	return nil
}

// EnsureStarted is a no-op if the named server is already Running;
// otherwise it constructs (if needed) and connects the client,
// publishing ToolsUpdated once tools are discovered.
func (m *Manager) EnsureStarted(ctx context.Context, name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		cfg, knownCfg := m.configs[name]
		if !knownCfg {
			m.mu.Unlock()
			return &mcpclient.ClientError{Kind: mcpclient.KindNotFound, Message: name}
		}
		newClient, err := mcpclient.New(cfg)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		client = newClient
		m.clients[name] = client
	}
	m.mu.Unlock()

	if client.Status() == mcpclient.StatusRunning {
		return nil
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	m.publish(Event{Kind: EventToolsUpdated, Plugin: name, Tools: client.Tools()})
	return nil
}

// Stop disconnects the named client, if known.
func (m *Manager) Stop(name string) error {
	m.mu.RLock()
	client, ok := m.clients[name]
	m.mu.RUnlock()
	if !ok {
		return &mcpclient.ClientError{Kind: mcpclient.KindNotFound, Message: name}
	}
	return client.Disconnect()
}

// GetClient returns a handle to the named client, constructing it
// (unconnected) from configuration if this is the first lookup.
func (m *Manager) GetClient(name string) (*mcpclient.Client, error) {
	m.mu.RLock()
	client, ok := m.clients[name]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[name]; ok {
		return client, nil
	}
	cfg, ok := m.configs[name]
	if !ok {
		return nil, &mcpclient.ClientError{Kind: mcpclient.KindNotFound, Message: name}
	}
	client, err := mcpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	m.clients[name] = client
	return client, nil
}

// GetServerConfig returns the stored configuration for name.
func (m *Manager) GetServerConfig(name string) (mcpclient.ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// ConnectedServers returns the names of clients currently Running.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, c := range m.clients {
		if c.Status() == mcpclient.StatusRunning {
			out = append(out, name)
		}
	}
	return out
}

// ListToolMetadata returns the union of tool metadata across all
// running clients.
func (m *Manager) ListToolMetadata() []mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []mcp.Tool
	for _, c := range m.clients {
		if c.Status() == mcpclient.StatusRunning {
			out = append(out, c.Tools()...)
		}
	}
	return out
}

// CallTool routes a tool invocation to the named server's client,
// connecting it first if it is not already Running (clients are created
// lazily, so the first tool call a workflow step makes is what brings
// the server up).
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	if err := m.EnsureStarted(ctx, server); err != nil {
		return nil, err
	}
	client, err := m.GetClient(server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// DisconnectAll stops every known client, collecting any errors.
func (m *Manager) DisconnectAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.RUnlock()
	var firstErr error
	for _, name := range names {
		if err := m.Stop(name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnect %s: %w", name, err)
		}
	}
	return firstErr
}

// Subscribe returns a channel of broadcast events. The channel is
// buffered; slow subscribers may miss events rather than block
// publishers.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
