package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"oatty/internal/registry"
	"oatty/internal/workflow"
)

// HTTPRunner is the registry-backed runner: it parses a step's run id,
// looks up the command spec, and issues an HTTP request built from the
// command's method/path template, the catalog's resolved base URL, and
// merged headers. A tool-server-backed command is a descriptive error in
// this HTTP-only context (see PluginRunner for the tool-server path).
type HTTPRunner struct {
	Registry *registry.Registry
	Client   *http.Client
}

// NewHTTPRunner builds an HTTPRunner whose client timeout is the only
// bound on a command call; there is no tighter per-call deadline.
func NewHTTPRunner(reg *registry.Registry) *HTTPRunner {
	return &HTTPRunner{Registry: reg, Client: &http.Client{Timeout: 60 * time.Second}}
}

// Run looks up runID's command and performs its HTTP call.
func (r *HTTPRunner) Run(ctx context.Context, runID string, with map[string]json.RawMessage, body json.RawMessage) (json.RawMessage, error) {
	group, name, err := SplitRunID(runID)
	if err != nil {
		return nil, err
	}
	spec, err := r.Registry.FindByGroupAndCmd(group, name)
	if err != nil {
		return nil, err
	}
	return r.runCommand(ctx, spec, with, body)
}

func (r *HTTPRunner) runCommand(ctx context.Context, spec *workflow.CommandSpec, with map[string]json.RawMessage, body json.RawMessage) (json.RawMessage, error) {
	if spec.Execution.Kind != workflow.ExecutionHTTP {
		return nil, fmt.Errorf("%w: %s", ErrToolServerInHTTPContext, spec.ID())
	}

	baseURL, err := r.Registry.ResolveBaseURLForCommand(spec)
	if err != nil {
		return nil, err
	}
	headers, err := r.Registry.ResolveHeadersForCommand(spec)
	if err != nil {
		return nil, err
	}

	path, remaining := substitutePathPlaceholders(spec.Execution.PathTemplate, with)
	fullURL := strings.TrimRight(baseURL, "/") + path

	method := strings.ToUpper(spec.Execution.Method)
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodDelete {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, fmt.Errorf("parse request url: %w", err)
		}
		if len(remaining) > 0 {
			q := u.Query()
			for k, v := range remaining {
				q.Set(k, scalarToPathSegment(v))
			}
			u.RawQuery = q.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
	} else {
		payload := body
		if len(payload) == 0 {
			payload, err = buildJSONBody(remaining)
			if err != nil {
				return nil, fmt.Errorf("marshal request body: %w", err)
			}
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner: http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runner: read response body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("runner: http status %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("runner: response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// buildJSONBody assembles a JSON object from the unconsumed `with`
// arguments directly as raw bytes, via sjson.SetRawBytes, rather than
// decoding each value to an `any` and re-marshaling the whole map; each
// argument is already a json.RawMessage, so this avoids a needless
// decode/encode round trip per field.
func buildJSONBody(fields map[string]json.RawMessage) ([]byte, error) {
	out := []byte("{}")
	var err error
	for k, v := range fields {
		out, err = sjson.SetRawBytes(out, k, v)
		if err != nil {
			return nil, fmt.Errorf("set field %q: %w", k, err)
		}
	}
	return out, nil
}
