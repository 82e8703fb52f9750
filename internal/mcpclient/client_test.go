package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	connectErr error
	tools      []mcp.Tool
	callDelay  time.Duration
	callErr    error
}

func (f *fakeTransport) connect(ctx context.Context) error { return f.connectErr }
func (f *fakeTransport) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if f.callDelay > 0 {
		select {
		case <-time.After(f.callDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{}, nil
}
func (f *fakeTransport) listTools(ctx context.Context) ([]mcp.Tool, error) { return f.tools, nil }
func (f *fakeTransport) disconnect() error { return nil }

func newFakeClient(tr transport) *Client {
	return &Client{cfg: ServerConfig{Name: "fake"}, status: StatusStopped, tr: tr, logs: newLogBuffer(10)}
}

func TestClient_ConnectSuccessTransitionsRunning(t *testing.T) {
	c := newFakeClient(&fakeTransport{tools: []mcp.Tool{{Name: "t1"}}})
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusRunning, c.Status())
	assert.Len(t, c.Tools(), 1)
	assert.True(t, c.HealthCheck().Healthy)
}

func TestClient_ConnectFailureTransitionsError(t *testing.T) {
	c := newFakeClient(&fakeTransport{connectErr: errors.New("boom")})
	err := c.Connect(context.Background())
	require.Error(t, err)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindStartupFailed, ce.Kind)
	assert.Equal(t, StatusError, c.Status())
}

func TestClient_CallToolRequiresRunning(t *testing.T) {
	c := newFakeClient(&fakeTransport{})
	_, err := c.CallTool(context.Background(), "tool", nil)
	require.Error(t, err)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNotRunning, ce.Kind)
}

func TestClient_DisconnectReturnsToStopped(t *testing.T) {
	c := newFakeClient(&fakeTransport{})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())
	assert.Equal(t, StatusStopped, c.Status())
	assert.Empty(t, c.Tools())
}

func TestClient_RefreshToolsUpdatesCachedList(t *testing.T) {
	tr := &fakeTransport{tools: []mcp.Tool{{Name: "t1"}}}
	c := newFakeClient(tr)
	require.NoError(t, c.Connect(context.Background()))

	tr.tools = []mcp.Tool{{Name: "t1"}, {Name: "t2"}}
	tools, err := c.RefreshTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
	assert.Len(t, c.Tools(), 2)
}

func TestClient_RefreshToolsRequiresRunning(t *testing.T) {
	c := newFakeClient(&fakeTransport{})
	_, err := c.RefreshTools(context.Background())
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNotRunning, ce.Kind)
}

func TestStatus_IsTransitional(t *testing.T) {
	assert.True(t, StatusStarting.IsTransitional())
	assert.True(t, StatusStopping.IsTransitional())
	assert.False(t, StatusRunning.IsTransitional())
	assert.False(t, StatusStopped.IsTransitional())
	assert.False(t, StatusError.IsTransitional())
}
