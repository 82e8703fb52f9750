package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// shutdownGrace is how long a subprocess is given to exit cleanly after
// being signalled before it is killed outright.
const shutdownGrace = 3 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// subprocessTransport spawns the configured command and speaks
// newline-delimited JSON-RPC over its stdin/stdout, the standard MCP
// stdio wire format. It does not reuse mcp-go's own stdio transport;
// it keeps its own pending-request correlation table, separate from the
// streaming-HTTP transport's.
type subprocessTransport struct {
	cfg  ServerConfig
	logs *logBuffer

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   interface {
		Write([]byte) (int, error)
		Close() error
	}
	pending map[string]chan *rpcResponse
}

func newSubprocessTransport(cfg ServerConfig, logs *logBuffer) *subprocessTransport {
	return &subprocessTransport{cfg: cfg, logs: logs, pending: map[string]chan *rpcResponse{}}
}

func (t *subprocessTransport) connect(ctx context.Context) error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start subprocess: %w", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.drainStderr(stderr)
	return nil
}

func (t *subprocessTransport) readLoop(stdout interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logs.append("stdout", "unparseable line: "+string(line))
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			respCopy := resp
			ch <- &respCopy
		}
	}
}

func (t *subprocessTransport) drainStderr(stderr interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logs.append("stderr", scanner.Text())
	}
}

func (t *subprocessTransport) send(ctx context.Context, method string, params any) (*rpcResponse, error) {
	id := uuid.NewString()
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	ch := make(chan *rpcResponse, 1)
	t.mu.Lock()
	if t.stdin == nil {
		t.mu.Unlock()
		return nil, &ClientError{Kind: KindNotRunning, Message: "subprocess not started"}
	}
	t.pending[id] = ch
	_, writeErr := t.stdin.Write(data)
	t.mu.Unlock()
	if writeErr != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", writeErr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *subprocessTransport) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	resp, err := t.send(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("decode tool result: %w", err)
		}
	}
	return &result, nil
}

func (t *subprocessTransport) listTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := t.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, fmt.Errorf("decode tool list: %w", err)
		}
	}
	return out.Tools, nil
}

func (t *subprocessTransport) disconnect() error {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
