// Package mcpclient implements the per-tool-server client state machine:
// transport selection (subprocess pipe or long-lived streaming HTTP with
// a server-pushed event stream), tool discovery, cancellation, and timed
// invocation. Wire types for tools and call results are reused from
// github.com/mark3labs/mcp-go's mcp package rather than reinvented.
package mcpclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Status is the tool-server client's lifecycle state.
type Status string

const (
	StatusStopped  Status = "Stopped"
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusStopping Status = "Stopping"
	StatusWarning  Status = "Warning"
	StatusError    Status = "Error"
)

// IsTransitional reports whether the status represents an in-flight
// lifecycle transition rather than a settled state.
func (s Status) IsTransitional() bool {
	return s == StatusStarting || s == StatusStopping
}

// Health is the client's last-known health record.
type Health struct {
	Healthy             bool
	LastCheck           time.Time
	StartedAt           time.Time
	HandshakeLatencyMs  int64
	ConsecutiveFailures int
	LastError           string
}

// AuthConfig describes outbound authentication for the streaming HTTP
// transport.
type AuthConfig struct {
	Scheme      string
	Username    string
	Password    string
	Token       string
	HeaderName  string
	Interactive bool
}

// ServerConfig is one tool-server's configuration, as loaded from the
// `mcpServers` map (see internal/config).
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string

	BaseURL string
	Headers map[string]string
	Auth    *AuthConfig

	Disabled bool
	Tags     []string
}

// ErrorKind classifies plugin errors for callers that branch on the
// failure mode rather than the message.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NotFound"
	KindAlreadyRunning     ErrorKind = "AlreadyRunning"
	KindNotRunning         ErrorKind = "NotRunning"
	KindStartupFailed      ErrorKind = "StartupFailed"
	KindShutdownFailed     ErrorKind = "ShutdownFailed"
	KindValidationFailed   ErrorKind = "ValidationFailed"
	KindConfigurationError ErrorKind = "ConfigurationError"
	KindProcessError       ErrorKind = "ProcessError"
	KindCommunicationError ErrorKind = "CommunicationError"
)

// ClientError is the mcpclient package's error type.
type ClientError struct {
	Kind    ErrorKind
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("mcpclient: %s: %s", e.Kind, e.Message)
}

// ErrToolInvocationTimeout is returned when a tool call does not
// complete within its 30s deadline.
type ErrToolInvocationTimeout struct {
	Tool string
}

func (e *ErrToolInvocationTimeout) Error() string {
	return fmt.Sprintf("mcpclient: tool invocation timed out: %s", e.Tool)
}

// LogLine is one line captured from a subprocess's stderr or an
// internal lifecycle event, tagged by source.
type LogLine struct {
	Source string
	Text   string
	At     time.Time
}

// logBuffer is a small bounded ring of recent log lines per client.
type logBuffer struct {
	mu    sync.Mutex
	lines []LogLine
	cap   int
}

func newLogBuffer(capacity int) *logBuffer {
	return &logBuffer{cap: capacity}
}

func (b *logBuffer) append(source, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, LogLine{Source: source, Text: text, At: time.Now()})
	if len(b.lines) > b.cap {
		b.lines = b.lines[len(b.lines)-b.cap:]
	}
}

func (b *logBuffer) snapshot() []LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// ToolResultText extracts the first text content block from an
// mcp.CallToolResult.
func ToolResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			return tc.Text
		}
	}
	return ""
}
