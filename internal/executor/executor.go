// Package executor is the engine core: it walks a planner-ordered step
// sequence, evaluates conditions and resolves templates via
// internal/template, dispatches each step to a pluggable
// internal/runner.Runner, and maintains the accumulating run context.
// Steps execute as a single linear walk with optional repeat/until
// polling per step.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"oatty/internal/planner"
	"oatty/internal/runner"
	"oatty/internal/template"
	"oatty/internal/workflow"
)

// ErrCancelled is returned when a run is halted by its cancel signal.
var ErrCancelled = errors.New("workflow run cancelled")

// defaultRepeatInterval is the fallback used when `every` is empty or
// malformed.
const defaultRepeatInterval = time.Second

// defaultMaxAttempts and repeatAttemptCeiling bound `repeat.max_attempts`
// to [1, 100], defaulting to 100 when unset.
const (
	defaultMaxAttempts   = 100
	repeatAttemptCeiling = 100
)

// Observer receives progress notifications during a run. Engine.Observer
// may be nil, in which case no notifications are sent.
type Observer interface {
	// OnAttempt fires once per repeat-loop iteration, before the runner
	// is invoked, with the 1-based attempt number.
	OnAttempt(stepID string, attempt int)
}

// Policy configures run-level behavior not dictated by a single step.
type Policy struct {
	// ContinueOnFailure lets the run proceed past a Failed step instead
	// of halting.
	ContinueOnFailure bool
}

// Engine is the workflow execution engine: a planner-ordered step walk
// over a single run context, dispatching to a pluggable Runner.
type Engine struct {
	Runner   runner.Runner
	Policy   Policy
	Observer Observer
}

// New builds an Engine dispatching steps to r.
func New(r runner.Runner) *Engine {
	return &Engine{Runner: r}
}

// Run plans spec.Steps and executes them in order against rc, returning
// the per-step results. Steps after a Failed step are skipped (not
// executed, not appended) unless Policy.ContinueOnFailure is set. The
// cancel channel is polled between steps and at every repeat iteration;
// closing it (or sending on it) halts the run, marking the in-progress
// or next step Failed with a cancellation note.
func (e *Engine) Run(ctx context.Context, spec workflow.Spec, rc *workflow.RunContext, cancel <-chan struct{}) ([]workflow.StepResult, error) {
	planned, err := planner.Plan(spec.Steps)
	if err != nil {
		return nil, err
	}

	results := make([]workflow.StepResult, 0, len(planned))
	for _, step := range planned {
		if isCancelled(cancel) {
			results = append(results, workflow.StepResult{
				ID:     step.ID,
				Status: workflow.StepFailed,
				Logs:   []string{"run cancelled before step started"},
			})
			return results, ErrCancelled
		}

		res := e.runStep(ctx, step, rc, cancel)
		rc.Steps[step.ID] = res.Output
		results = append(results, res)

		if res.Status == workflow.StepFailed && !e.Policy.ContinueOnFailure {
			return results, nil
		}
	}
	return results, nil
}

func (e *Engine) runStep(ctx context.Context, step workflow.StepSpec, rc *workflow.RunContext, cancel <-chan struct{}) workflow.StepResult {
	ctxJSON := rc.AsJSON()

	resolvedWith, _, err := template.ResolveMap(step.With, ctxJSON)
	if err != nil {
		return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Logs: []string{fmt.Sprintf("with resolution error: %v", err)}, Attempts: 0}
	}
	resolvedBody, _, err := template.ResolveTree(step.Body, ctxJSON)
	if err != nil {
		return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Logs: []string{fmt.Sprintf("body resolution error: %v", err)}, Attempts: 0}
	}

	if step.If != "" {
		cond := template.StripWrapper(step.If)
		ok, unresolved, err := template.EvaluateCondition(cond, ctxJSON)
		if err != nil {
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Logs: []string{fmt.Sprintf("condition syntax error: %v", err)}}
		}
		if !ok {
			reason := "condition evaluated false"
			if len(unresolved) > 0 {
				reason = fmt.Sprintf("unresolved condition references: %s", strings.Join(unresolved, ", "))
			}
			return workflow.StepResult{ID: step.ID, Status: workflow.StepSkipped, Logs: []string{reason}}
		}
	}

	if step.Repeat == nil {
		output, err := e.Runner.Run(ctx, step.Run, resolvedWith, resolvedBody)
		if err != nil {
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: output, Logs: []string{err.Error()}, Attempts: 1}
		}
		if verr := validateOutputContract(step.OutputContract, output); verr != nil {
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: output, Logs: []string{verr.Error()}, Attempts: 1}
		}
		return workflow.StepResult{ID: step.ID, Status: workflow.StepSucceeded, Output: output, Attempts: 1}
	}

	return e.runRepeat(ctx, step, rc, resolvedWith, resolvedBody, cancel)
}

func (e *Engine) runRepeat(ctx context.Context, step workflow.StepSpec, rc *workflow.RunContext, with map[string]json.RawMessage, body json.RawMessage, cancel <-chan struct{}) workflow.StepResult {
	interval := parseEvery(step.Repeat.Every)
	maxAttempts := clampMaxAttempts(step.Repeat.MaxAttempts)

	var lastOutput json.RawMessage
	var logs []string
	attempts := 0

	for {
		if isCancelled(cancel) {
			logs = append(logs, "run cancelled during repeat")
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		}

		attempts++
		if e.Observer != nil {
			e.Observer.OnAttempt(step.ID, attempts)
		}

		output, err := e.Runner.Run(ctx, step.Run, with, body)
		if err != nil {
			logs = append(logs, fmt.Sprintf("attempt %d failed: %v", attempts, err))
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		}
		lastOutput = output
		rc.Steps[step.ID] = output

		condExpr := template.StripWrapper(step.Repeat.Until)
		ok, unresolved, err := template.EvaluateCondition(condExpr, rc.AsJSON())
		if err != nil {
			logs = append(logs, fmt.Sprintf("until condition syntax error: %v", err))
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		}
		if len(unresolved) > 0 {
			logs = append(logs, fmt.Sprintf("unresolved condition references: %s", strings.Join(unresolved, ", ")))
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		}
		if ok {
			if verr := validateOutputContract(step.OutputContract, lastOutput); verr != nil {
				logs = append(logs, verr.Error())
				return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
			}
			return workflow.StepResult{ID: step.ID, Status: workflow.StepSucceeded, Output: lastOutput, Logs: logs, Attempts: attempts}
		}
		if attempts >= maxAttempts {
			logs = append(logs, "repeat guard tripped")
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		}

		select {
		case <-cancel:
			logs = append(logs, "run cancelled during repeat")
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		case <-ctx.Done():
			logs = append(logs, fmt.Sprintf("context error during repeat: %v", ctx.Err()))
			return workflow.StepResult{ID: step.ID, Status: workflow.StepFailed, Output: lastOutput, Logs: logs, Attempts: attempts}
		case <-time.After(interval):
		}
	}
}

func isCancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

// parseEvery parses an integer followed by a unit character ('s'
// seconds, 'm' minutes, case-insensitive). Empty or malformed input
// falls back to 1 second.
func parseEvery(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultRepeatInterval
	}
	last := s[len(s)-1]
	var unit time.Duration
	numPart := s
	switch last {
	case 's', 'S':
		unit = time.Second
		numPart = s[:len(s)-1]
	case 'm', 'M':
		unit = time.Minute
		numPart = s[:len(s)-1]
	default:
		unit = time.Second
	}
	n, err := strconv.Atoi(strings.TrimSpace(numPart))
	if err != nil || n <= 0 {
		return defaultRepeatInterval
	}
	return time.Duration(n) * unit
}

// clampMaxAttempts enforces repeat.max_attempts in [1, 100], defaulting
// to 100 when unset.
func clampMaxAttempts(n int) int {
	if n == 0 {
		return defaultMaxAttempts
	}
	if n < 1 {
		return 1
	}
	if n > repeatAttemptCeiling {
		return repeatAttemptCeiling
	}
	return n
}

// validateOutputContract checks a step's output against its declared
// output_contract JSON Schema, when one is set. An empty contract is
// always valid (most steps don't declare one).
func validateOutputContract(contract json.RawMessage, output json.RawMessage) error {
	if len(contract) == 0 {
		return nil
	}
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	schemaLoader := gojsonschema.NewBytesLoader(contract)
	docLoader := gojsonschema.NewBytesLoader(output)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("output_contract validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("output does not satisfy output_contract: %s", strings.Join(msgs, "; "))
}
