package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCallDeadline is the fixed per-invocation deadline, 30 seconds
// from issue to response.
const ToolCallDeadline = 30 * time.Second

// transport is the minimal surface both subprocess and streaming-HTTP
// transports implement. The executor-facing Client is transport-agnostic
// above this line.
type transport interface {
	connect(ctx context.Context) error
	callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	listTools(ctx context.Context) ([]mcp.Tool, error)
	disconnect() error
}

// Client is a per-server connection state machine. Transport is chosen
// once at construction: subprocess when a command is configured,
// otherwise streaming HTTP when a base URL is configured.
type Client struct {
	mu     sync.RWMutex
	cfg    ServerConfig
	status Status
	health Health
	tools  []mcp.Tool
	tr     transport
	logs   *logBuffer
}

// New selects a transport for cfg and returns an unconnected Client.
func New(cfg ServerConfig) (*Client, error) {
	logs := newLogBuffer(200)
	var tr transport
	switch {
	case cfg.Command != "":
		tr = newSubprocessTransport(cfg, logs)
	case cfg.BaseURL != "":
		tr = newHTTPTransport(cfg)
	default:
		return nil, &ClientError{Kind: KindConfigurationError, Message: fmt.Sprintf("server %q has neither command nor baseUrl", cfg.Name)}
	}
	return &Client{cfg: cfg, status: StatusStopped, tr: tr, logs: logs}, nil
}

// Name returns the server's configured name.
func (c *Client) Name() string { return c.cfg.Name }

// Status returns the client's current lifecycle state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Connect performs the transport-specific handshake, recording the
// round-trip as handshake latency, then refreshes the tool list.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusRunning {
		c.mu.Unlock()
		return &ClientError{Kind: KindAlreadyRunning, Message: c.cfg.Name}
	}
	c.status = StatusStarting
	c.mu.Unlock()

	start := time.Now()
	err := c.tr.connect(ctx)
	latency := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.status = StatusError
		c.health.Healthy = false
		c.health.LastError = err.Error()
		c.health.ConsecutiveFailures++
		c.health.LastCheck = time.Now()
		return &ClientError{Kind: KindStartupFailed, Message: err.Error()}
	}
	c.status = StatusRunning
	c.health = Health{
		Healthy:            true,
		LastCheck:          time.Now(),
		StartedAt:          start,
		HandshakeLatencyMs: latency.Milliseconds(),
	}
	c.logs.append("lifecycle", fmt.Sprintf("connected in %s", latency))

	tools, toolsErr := c.tr.listTools(ctx)
	if toolsErr == nil {
		c.tools = tools
	}
	return nil
}

// Disconnect cancels the running transport and returns to Stopped.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning && c.status != StatusWarning && c.status != StatusError {
		return &ClientError{Kind: KindNotRunning, Message: c.cfg.Name}
	}
	c.status = StatusStopping
	err := c.tr.disconnect()
	c.status = StatusStopped
	c.tools = nil
	if err != nil {
		return &ClientError{Kind: KindShutdownFailed, Message: err.Error()}
	}
	c.logs.append("lifecycle", "disconnected")
	return nil
}

// RefreshTools re-lists the server's tools into the cached set.
func (c *Client) RefreshTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	running := c.status == StatusRunning
	c.mu.RUnlock()
	if !running {
		return nil, &ClientError{Kind: KindNotRunning, Message: c.cfg.Name}
	}
	tools, err := c.tr.listTools(ctx)
	if err != nil {
		return nil, &ClientError{Kind: KindCommunicationError, Message: err.Error()}
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// Tools returns the cached tool metadata list.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a named tool with a 30s deadline. Concurrent
// invocations against one client are permitted; correlation is by
// per-request id inside the transport.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	running := c.status == StatusRunning
	c.mu.RUnlock()
	if !running {
		return nil, &ClientError{Kind: KindNotRunning, Message: c.cfg.Name}
	}

	callCtx, cancel := context.WithTimeout(ctx, ToolCallDeadline)
	defer cancel()

	result, err := c.tr.callTool(callCtx, name, args)
	if err != nil {
		if callCtx.Err() != nil {
			c.mu.Lock()
			c.health.ConsecutiveFailures++
			c.mu.Unlock()
			return nil, &ErrToolInvocationTimeout{Tool: name}
		}
		return nil, &ClientError{Kind: KindCommunicationError, Message: err.Error()}
	}
	return result, nil
}

// HealthCheck returns healthy=(status==Running) and the last recorded
// handshake latency.
func (c *Client) HealthCheck() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.health
	h.Healthy = c.status == StatusRunning
	h.LastCheck = time.Now()
	return h
}

// Logs returns a snapshot of recently captured log lines.
func (c *Client) Logs() []LogLine {
	return c.logs.snapshot()
}
