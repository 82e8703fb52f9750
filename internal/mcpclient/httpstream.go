package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// httpTransport is the streaming-HTTP transport: a request channel for
// outbound tool invocations posted as HTTP requests, correlated against
// responses delivered on a server-pushed SSE event stream. Reconnects
// with exponential backoff (500ms doubling to a 10s cap), resending the
// last-known event id via Last-Event-ID.
type httpTransport struct {
	cfg    ServerConfig
	client *http.Client

	mu          sync.Mutex
	pending     map[string]chan json.RawMessage
	lastEventID string
	cancel      context.CancelFunc
}

func newHTTPTransport(cfg ServerConfig) *httpTransport {
	return &httpTransport{
		cfg:     cfg,
		client:  &http.Client{},
		pending: map[string]chan json.RawMessage{},
	}
}

func (t *httpTransport) connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.eventLoop(runCtx, ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(ToolCallDeadline):
		cancel()
		return fmt.Errorf("timed out waiting for event stream to open")
	}
}

func (t *httpTransport) disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *httpTransport) eventsURL() string {
	return strings.TrimRight(t.cfg.BaseURL, "/") + "/events"
}

func (t *httpTransport) eventLoop(ctx context.Context, ready chan<- error) {
	backoff := initialBackoff
	reportedReady := false
	for {
		if ctx.Err() != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.eventsURL(), nil)
		if err != nil {
			t.signalReady(ready, &reportedReady, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		t.mu.Lock()
		lastID := t.lastEventID
		t.mu.Unlock()
		if lastID != "" {
			req.Header.Set("Last-Event-ID", lastID)
		}
		applyAuth(req, t.cfg)

		resp, err := t.client.Do(req)
		if err != nil || resp.StatusCode/100 != 2 {
			if resp != nil {
				resp.Body.Close()
			}
			t.signalReady(ready, &reportedReady, fmt.Errorf("connect event stream: %v", err))
			if !t.sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		t.signalReady(ready, &reportedReady, nil)
		backoff = initialBackoff
		t.consumeStream(ctx, resp.Body)
		resp.Body.Close()

		if ctx.Err() != nil {
			return
		}
		if !t.sleepBackoff(ctx, &backoff) {
			return
		}
	}
}

func (t *httpTransport) signalReady(ready chan<- error, reported *bool, err error) {
	if *reported {
		return
	}
	*reported = true
	select {
	case ready <- err:
	default:
	}
}

func (t *httpTransport) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return false
	}
	next := *backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	*backoff = next
	return true
}

func (t *httpTransport) consumeStream(ctx context.Context, body interface{ Read([]byte) (int, error) }) {
	reader := bufio.NewReader(body)
	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := readSSEEvent(reader)
		if err != nil {
			return
		}
		if ev.ID != "" {
			t.mu.Lock()
			t.lastEventID = ev.ID
			t.mu.Unlock()
		}
		if ev.Data == "" {
			continue
		}
		t.dispatch(ev.Data)
	}
}

func (t *httpTransport) dispatch(data string) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return
	}
	id := rawIDToString(envelope.ID)
	if id == "" {
		return
	}
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- json.RawMessage(data)
	}
}

func rawIDToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (t *httpTransport) post(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan json.RawMessage, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.cfg.BaseURL, "/")+"/", bytes.NewReader(body))
	if err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, t.cfg)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("post request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		t.removePending(id)
		return nil, fmt.Errorf("post request: unexpected status %d", resp.StatusCode)
	}

	select {
	case data := <-ch:
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response envelope: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.removePending(id)
		return nil, ctx.Err()
	}
}

func (t *httpTransport) removePending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *httpTransport) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	result, err := t.post(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var out mcp.CallToolResult
	if len(result) > 0 {
		if err := json.Unmarshal(result, &out); err != nil {
			return nil, fmt.Errorf("decode tool result: %w", err)
		}
	}
	return &out, nil
}

func (t *httpTransport) listTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := t.post(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &out); err != nil {
			return nil, fmt.Errorf("decode tool list: %w", err)
		}
	}
	return out.Tools, nil
}

func applyAuth(req *http.Request, cfg ServerConfig) {
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Auth == nil {
		return
	}
	switch cfg.Auth.Scheme {
	case "basic":
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cfg.Auth.Token)
	case "header":
		name := cfg.Auth.HeaderName
		if name == "" {
			name = "Authorization"
		}
		req.Header.Set(name, cfg.Auth.Token)
	}
}
