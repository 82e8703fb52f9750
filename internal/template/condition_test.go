package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition_UnsupportedOperators(t *testing.T) {
	for _, expr := range []string{
		`inputs.a === inputs.b`,
		`inputs.a !== inputs.b`,
		`inputs.a < inputs.b`,
		`inputs.a <= inputs.b`,
		`inputs.a > inputs.b`,
		`inputs.a >= inputs.b`,
	} {
		_, _, err := EvaluateCondition(expr, map[string]any{"inputs": map[string]any{}})
		require.Error(t, err, expr)
		assert.ErrorIs(t, err, ErrUnsupportedOperator, expr)
	}
}

func TestEvaluateCondition_MissingInputComparedToNull(t *testing.T) {
	ctx := map[string]any{"inputs": map[string]any{}, "env": map[string]any{}, "steps": map[string]any{}}
	result, unresolved, err := EvaluateCondition(`inputs.optional_field == null`, ctx)
	require.NoError(t, err)
	assert.True(t, result)
	assert.Empty(t, unresolved)
}

func TestEvaluateCondition_UnresolvedNotEqualNullIsReported(t *testing.T) {
	ctx := map[string]any{"inputs": map[string]any{}, "env": map[string]any{}, "steps": map[string]any{}}
	result, unresolved, err := EvaluateCondition(`steps.lookup.value != null`, ctx)
	require.NoError(t, err)
	assert.False(t, result)
	assert.Equal(t, []string{"steps.lookup.value"}, unresolved)
}

func TestEvaluateCondition_UTF8Literal(t *testing.T) {
	ctx := map[string]any{"inputs": map[string]any{"name": "café"}, "env": map[string]any{}, "steps": map[string]any{}}
	result, unresolved, err := EvaluateCondition(`inputs.name == "café"`, ctx)
	require.NoError(t, err)
	assert.True(t, result)
	assert.Empty(t, unresolved)
}

func TestEvaluateCondition_Includes(t *testing.T) {
	ctx := map[string]any{
		"inputs": map[string]any{"tags": []any{"a", "b", "c"}},
		"env":    map[string]any{},
		"steps":  map[string]any{},
	}
	result, _, err := EvaluateCondition(`inputs.tags.includes("b")`, ctx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateCondition_AndOrNot(t *testing.T) {
	ctx := map[string]any{
		"inputs": map[string]any{"a": true, "b": false},
		"env":    map[string]any{},
		"steps":  map[string]any{},
	}
	result, _, err := EvaluateCondition(`inputs.a && !inputs.b`, ctx)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = EvaluateCondition(`inputs.b || inputs.a`, ctx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestParseStepReference(t *testing.T) {
	stepID, rest, ok := ParseStepReference("steps.x.y")
	require.True(t, ok)
	assert.Equal(t, "x", stepID)
	assert.Equal(t, "y", rest)

	stepID, rest, ok = ParseStepReference("steps.x[0].service.id")
	require.True(t, ok)
	assert.Equal(t, "x", stepID)
	assert.Equal(t, "0.service.id", rest)

	stepID, rest, ok = ParseStepReference("steps.deploy.output.id")
	require.True(t, ok)
	assert.Equal(t, "deploy", stepID)
	assert.Equal(t, "id", rest)
}
