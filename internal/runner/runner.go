// Package runner implements the command runner: the single operation
// `Run(runID, with, body, ctx) -> JSON` that the executor dispatches each
// resolved step to. Four implementations share the interface: a no-op
// echo used by dry-run/tests, an always-failing runner for tests, a
// registry-backed HTTP runner, and a plugin-aware runner that
// additionally routes tool-server commands through the client manager.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRunID is returned when a step's `run` field does not split
// into a (group, name) pair.
var ErrMalformedRunID = errors.New("malformed run id, expected \"<group> <name>\"")

// ErrToolServerInHTTPContext is returned by the HTTP-only runner when a
// resolved command is tool-server-backed.
var ErrToolServerInHTTPContext = errors.New("command is tool-server-backed but runner is HTTP-only")

// Runner dispatches a resolved step identifier to its execution target.
// The runner never mutates the registry or the run context directly; it
// returns the step's raw JSON output for the executor to record.
type Runner interface {
	Run(ctx context.Context, runID string, with map[string]json.RawMessage, body json.RawMessage) (json.RawMessage, error)
}

// SplitRunID parses "run" field in "<group> <name>" form.
func SplitRunID(runID string) (group, name string, err error) {
	parts := strings.SplitN(strings.TrimSpace(runID), " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedRunID, runID)
	}
	return parts[0], parts[1], nil
}

// echoPayload is the shape EchoRunner returns: the run id and the
// (unresolved-or-not) with/body values it was handed, unchanged.
type echoPayload struct {
	Run  string                     `json:"run"`
	With map[string]json.RawMessage `json:"with"`
	Body json.RawMessage            `json:"body,omitempty"`
}

// EchoRunner performs no side effects; it is used by dry-run previews
// and by executor tests that don't want to exercise real transports.
type EchoRunner struct{}

// Run returns { run, with, body } verbatim.
func (EchoRunner) Run(_ context.Context, runID string, with map[string]json.RawMessage, body json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(echoPayload{Run: runID, With: with, Body: body})
}

// FailingRunner always fails with Err; used by executor tests exercising
// the failure path.
type FailingRunner struct {
	Err error
}

// Run always returns the configured error.
func (f FailingRunner) Run(context.Context, string, map[string]json.RawMessage, json.RawMessage) (json.RawMessage, error) {
	if f.Err == nil {
		return nil, errors.New("failing runner")
	}
	return nil, f.Err
}

// substitutePathPlaceholders replaces "{name}" placeholders in a path
// template from the with map, returning the remaining (unconsumed) args.
func substitutePathPlaceholders(pathTemplate string, with map[string]json.RawMessage) (string, map[string]json.RawMessage) {
	remaining := make(map[string]json.RawMessage, len(with))
	for k, v := range with {
		remaining[k] = v
	}
	out := pathTemplate
	for k, v := range with {
		placeholder := "{" + k + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, scalarToPathSegment(v))
		delete(remaining, k)
	}
	return out, remaining
}

func scalarToPathSegment(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// extractToolResultJSON converts an MCP call result into the workflow's
// JSON output shape: preferring an array found under "items" or
// "results", otherwise wrapping a single object as-is.
func extractToolResultJSON(text string) json.RawMessage {
	if text == "" {
		return json.RawMessage("null")
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &generic); err == nil {
		if items, ok := generic["items"]; ok {
			return items
		}
		if results, ok := generic["results"]; ok {
			return results
		}
		return json.RawMessage(text)
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	b, _ := json.Marshal(text)
	return b
}
