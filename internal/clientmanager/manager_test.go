package clientmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/mcpclient"
)

// fakeToolServer is a minimal streaming-HTTP MCP server: every POSTed
// request is answered on the SSE event stream with the server's tool
// list, whatever its method.
func fakeToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	type pushReq struct {
		id string
	}
	pushCh := make(chan pushReq, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case req := <-pushCh:
				payload, _ := json.Marshal(map[string]any{
					"jsonrpc": "2.0",
					"id":      req.id,
					"result":  map[string]any{"tools": []map[string]any{{"name": "echo"}}},
				})
				fmt.Fprintf(w, "id: %s\ndata: %s\n\n", req.id, payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body := bufio.NewReader(r.Body)
		var req struct {
			ID     string `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(body).Decode(&req)
		pushCh <- pushReq{id: req.ID}
		w.WriteHeader(http.StatusAccepted)
	})
	return httptest.NewServer(mux)
}

func TestManager_EnsureStartedConnectsAndListsTools(t *testing.T) {
	srv := fakeToolServer(t)
	defer srv.Close()

	m := New()
	require.NoError(t, m.AddServer(mcpclient.ServerConfig{Name: "fake", BaseURL: srv.URL}))

	events := m.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.EnsureStarted(ctx, "fake"))

	select {
	case ev := <-events:
		assert.Equal(t, EventToolsUpdated, ev.Kind)
		assert.Equal(t, "fake", ev.Plugin)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ToolsUpdated event")
	}

	client, err := m.GetClient("fake")
	require.NoError(t, err)
	assert.Equal(t, mcpclient.StatusRunning, client.Status())
	assert.Contains(t, m.ConnectedServers(), "fake")

	metadata := m.ListToolMetadata()
	require.Len(t, metadata, 1)
	assert.Equal(t, "echo", metadata[0].Name)

	require.NoError(t, m.Stop("fake"))
}

func TestManager_CallToolConnectsLazily(t *testing.T) {
	srv := fakeToolServer(t)
	defer srv.Close()

	m := New()
	require.NoError(t, m.AddServer(mcpclient.ServerConfig{Name: "fake", BaseURL: srv.URL}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No EnsureStarted first: the call itself must bring the server up.
	result, err := m.CallTool(ctx, "fake", "echo", nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	client, err := m.GetClient("fake")
	require.NoError(t, err)
	assert.Equal(t, mcpclient.StatusRunning, client.Status())

	require.NoError(t, m.Stop("fake"))
}

func TestManager_EnsureStarted_UnknownServer(t *testing.T) {
	m := New()
	err := m.EnsureStarted(context.Background(), "missing")
	require.Error(t, err)
	var ce *mcpclient.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, mcpclient.KindNotFound, ce.Kind)
}
