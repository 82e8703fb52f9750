package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"oatty/internal/clientmanager"
	"oatty/internal/mcpclient"
	"oatty/internal/registry"
	"oatty/internal/workflow"
)

// PluginRunner is the registry-backed runner used outside of HTTP-only
// contexts: HTTP commands are dispatched exactly as HTTPRunner does;
// tool-server commands are routed through the client manager's CallTool,
// converting the MCP result into the workflow's JSON output shape.
type PluginRunner struct {
	http *HTTPRunner
	mgr  *clientmanager.Manager
}

// NewPluginRunner builds a PluginRunner over the given registry and
// client manager.
func NewPluginRunner(reg *registry.Registry, mgr *clientmanager.Manager) *PluginRunner {
	return &PluginRunner{http: NewHTTPRunner(reg), mgr: mgr}
}

// Run looks up runID's command and dispatches to HTTP or tool-server
// execution depending on the command's discriminator.
func (r *PluginRunner) Run(ctx context.Context, runID string, with map[string]json.RawMessage, body json.RawMessage) (json.RawMessage, error) {
	group, name, err := SplitRunID(runID)
	if err != nil {
		return nil, err
	}
	spec, err := r.http.Registry.FindByGroupAndCmd(group, name)
	if err != nil {
		return nil, err
	}

	switch spec.Execution.Kind {
	case workflow.ExecutionHTTP:
		return r.http.runCommand(ctx, spec, with, body)
	case workflow.ExecutionToolServer:
		return r.runTool(ctx, spec, with)
	default:
		return nil, fmt.Errorf("runner: unknown execution kind %q for %s", spec.Execution.Kind, spec.ID())
	}
}

func (r *PluginRunner) runTool(ctx context.Context, spec *workflow.CommandSpec, with map[string]json.RawMessage) (json.RawMessage, error) {
	args := make(map[string]any, len(with))
	for k, raw := range with {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode argument %q: %w", k, err)
		}
		args[k] = v
	}

	result, err := r.mgr.CallTool(ctx, spec.Execution.PluginName, spec.Execution.ToolName, args)
	if err != nil {
		return nil, fmt.Errorf("runner: tool call failed: %w", err)
	}
	text := mcpclient.ToolResultText(result)
	if result != nil && result.IsError {
		return nil, fmt.Errorf("runner: tool %s reported an error: %s", spec.Execution.ToolName, text)
	}
	return extractToolResultJSON(text), nil
}
