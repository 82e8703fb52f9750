package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/runner"
	"oatty/internal/workflow"
)

type stubRunner struct {
	output json.RawMessage
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context, string, map[string]json.RawMessage, json.RawMessage) (json.RawMessage, error) {
	s.calls++
	return s.output, s.err
}

func newContext(inputs map[string]json.RawMessage) *workflow.RunContext {
	return workflow.NewRunContext(inputs, nil)
}

func TestMissingInputComparedToNull(t *testing.T) {
	eng := New(runner.EchoRunner{})
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n", If: `inputs.optional == null`},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepSucceeded, results[0].Status)
}

func TestUnresolvedConditionSkipsStep(t *testing.T) {
	eng := New(runner.EchoRunner{})
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n", If: `steps.lookup.value != null`},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepSkipped, results[0].Status)
	require.Len(t, results[0].Logs, 1)
	assert.Contains(t, results[0].Logs[0], "unresolved condition references")
}

func TestRepeatSatisfiedUntil(t *testing.T) {
	stub := &stubRunner{output: json.RawMessage(`{"status":"ok"}`)}
	eng := New(stub)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "echo echo", Repeat: &workflow.RepeatSpec{Until: `steps.s1.status == "ok"`, Every: "1s"}},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepSucceeded, results[0].Status)
	assert.GreaterOrEqual(t, results[0].Attempts, 1)
	assert.JSONEq(t, `{"status":"ok"}`, string(rc.Steps["s1"]))
}

func TestRepeatGuardTrips(t *testing.T) {
	stub := &stubRunner{output: json.RawMessage(`{"status":"pending"}`)}
	eng := New(stub)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "echo echo", Repeat: &workflow.RepeatSpec{Until: `steps.s1.status == "ready"`, Every: "1s", MaxAttempts: 2}},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
	assert.Contains(t, results[0].Logs[len(results[0].Logs)-1], "repeat guard tripped")
}

func TestRepeatRunnerFailureIsTerminal(t *testing.T) {
	stub := &stubRunner{err: assert.AnError}
	eng := New(stub)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "echo echo", Repeat: &workflow.RepeatSpec{Until: `steps.s1.status == "ok"`, Every: "1s", MaxAttempts: 5}},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, 1, stub.calls)
}

func TestUnresolvedRepeatUntilFailsAfterOneAttempt(t *testing.T) {
	stub := &stubRunner{output: json.RawMessage(`{"status":"ok"}`)}
	eng := New(stub)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "echo echo", Repeat: &workflow.RepeatSpec{Until: `steps.missing.status == "ok"`, Every: "1s", MaxAttempts: 5}},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
	assert.Equal(t, 1, results[0].Attempts)
}

func TestHaltsOnFailureByDefault(t *testing.T) {
	stub := &stubRunner{err: assert.AnError}
	eng := New(stub)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n"},
			{ID: "s2", Run: "g n", DependsOn: []string{"s1"}},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
}

func TestContinueOnFailurePolicy(t *testing.T) {
	stub := &stubRunner{err: assert.AnError}
	eng := New(stub)
	eng.Policy.ContinueOnFailure = true
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n"},
			{ID: "s2", Run: "g n"},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestCancelBeforeStepHalts(t *testing.T) {
	eng := New(runner.EchoRunner{})
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{{ID: "s1", Run: "g n"}},
	}
	rc := newContext(nil)
	cancel := make(chan struct{})
	close(cancel)
	results, err := eng.Run(context.Background(), spec, rc, cancel)
	require.ErrorIs(t, err, ErrCancelled)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
}

func TestOutputContractValidationFailsStep(t *testing.T) {
	stub := &stubRunner{output: json.RawMessage(`{"status": 42}`)}
	eng := New(stub)
	schema := json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}},"required":["status"]}`)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n", OutputContract: schema},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepFailed, results[0].Status)
	require.Len(t, results[0].Logs, 1)
	assert.Contains(t, results[0].Logs[0], "output_contract")
}

func TestOutputContractValidationPasses(t *testing.T) {
	stub := &stubRunner{output: json.RawMessage(`{"status": "ok"}`)}
	eng := New(stub)
	schema := json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}},"required":["status"]}`)
	spec := workflow.Spec{
		Steps: []workflow.StepSpec{
			{ID: "s1", Run: "g n", OutputContract: schema},
		},
	}
	rc := newContext(nil)
	results, err := eng.Run(context.Background(), spec, rc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StepSucceeded, results[0].Status)
}

func TestParseEveryFallback(t *testing.T) {
	assert.Equal(t, defaultRepeatInterval, parseEvery(""))
	assert.Equal(t, defaultRepeatInterval, parseEvery("bogus"))
}

func TestClampMaxAttempts(t *testing.T) {
	assert.Equal(t, defaultMaxAttempts, clampMaxAttempts(0))
	assert.Equal(t, 1, clampMaxAttempts(-5))
	assert.Equal(t, repeatAttemptCeiling, clampMaxAttempts(500))
	assert.Equal(t, 12, clampMaxAttempts(12))
}
