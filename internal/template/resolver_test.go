package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTree_FullMatchPreservesType(t *testing.T) {
	ctx := map[string]any{
		"inputs": map[string]any{"count": float64(3)},
		"env":    map[string]any{},
		"steps":  map[string]any{},
	}
	raw := json.RawMessage(`"${{ inputs.count }}"`)
	out, unresolved, err := ResolveTree(raw, ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.JSONEq(t, `3`, string(out))
}

func TestResolveTree_PartialMatchStringifies(t *testing.T) {
	ctx := map[string]any{
		"inputs": map[string]any{"name": "world"},
		"env":    map[string]any{},
		"steps":  map[string]any{},
	}
	raw := json.RawMessage(`"hello ${{ inputs.name }}!"`)
	out, unresolved, err := ResolveTree(raw, ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.JSONEq(t, `"hello world!"`, string(out))
}

func TestResolveTree_UnresolvedLeftVerbatim(t *testing.T) {
	ctx := map[string]any{"inputs": map[string]any{}, "env": map[string]any{}, "steps": map[string]any{}}
	raw := json.RawMessage(`"${{ steps.missing.value }}"`)
	out, unresolved, err := ResolveTree(raw, ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"steps.missing.value"}, unresolved)
	assert.JSONEq(t, `"${{ steps.missing.value }}"`, string(out))
}

func TestCollectUnresolved_Stable(t *testing.T) {
	ctx := map[string]any{"inputs": map[string]any{}, "env": map[string]any{}, "steps": map[string]any{}}
	raw := json.RawMessage(`{"a":"${{ steps.x.y }}","b":["${{ inputs.z }}"]}`)
	first := CollectUnresolved(raw, ctx)
	second := CollectUnresolved(raw, ctx)
	assert.ElementsMatch(t, first, second)
	assert.Len(t, first, 2)
}

func TestStripWrapper(t *testing.T) {
	assert.Equal(t, "inputs.a == null", StripWrapper("${{ inputs.a == null }}"))
	assert.Equal(t, "inputs.a == null", StripWrapper("inputs.a == null"))
}
