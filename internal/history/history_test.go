package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndPurgeWholeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/history")

	require.NoError(t, w.Append(Record{
		WorkflowID: "deploy",
		RunID:      "r1",
		Status:     "Succeeded",
		Timestamp:  time.Now(),
		Inputs:     json.RawMessage(`{"env":"prod"}`),
	}))
	require.NoError(t, w.Append(Record{
		WorkflowID: "deploy",
		RunID:      "r2",
		Status:     "Failed",
		Timestamp:  time.Now(),
		Inputs:     json.RawMessage(`{"env":"staging"}`),
	}))

	exists, err := afero.Exists(fs, "/history/deploy.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)

	result, err := w.Purge("deploy", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesRemoved)
	assert.Equal(t, 2, result.RecordsRemoved)

	exists, err = afero.Exists(fs, "/history/deploy.jsonl")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPurgeByInputKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/history")

	require.NoError(t, w.Append(Record{WorkflowID: "w", RunID: "r1", Inputs: json.RawMessage(`{"secret":"x"}`)}))
	require.NoError(t, w.Append(Record{WorkflowID: "w", RunID: "r2", Inputs: json.RawMessage(`{"env":"prod"}`)}))

	result, err := w.Purge("w", []string{"secret"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesRemoved)
	assert.Equal(t, 1, result.RecordsRemoved)

	data, err := afero.ReadFile(fs, "/history/w.jsonl")
	require.NoError(t, err)
	var rec Record
	lines := splitLines(data)
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "r2", rec.RunID)
}

func TestPurgeAllWorkflows(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/history")
	require.NoError(t, w.Append(Record{WorkflowID: "a", RunID: "r1"}))
	require.NoError(t, w.Append(Record{WorkflowID: "b", RunID: "r2"}))

	result, err := w.Purge("", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesRemoved)
	assert.Equal(t, 2, result.RecordsRemoved)
}
