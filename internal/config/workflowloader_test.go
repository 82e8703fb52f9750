package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/workflow"
)

const sampleManifest = `
workflow: deploy-app
name: Deploy App
inputs:
  env:
    type: string
    default: staging
  replicas:
    type: number
steps:
  - id: fetch
    run: "apps apps:get"
    with:
      id: "42"
  - id: deploy
    run: "apps apps:deploy"
    depends_on: [fetch]
    with:
      env: ${{ inputs.env }}
      replicas: ${{ inputs.replicas }}
    repeat:
      until: "steps.deploy.status == \"ready\""
      every: "5s"
      max_attempts: 12
`

func TestParseWorkflowManifest(t *testing.T) {
	spec, err := ParseWorkflowManifest([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "deploy-app", spec.Workflow)
	assert.Equal(t, []string{"env", "replicas"}, spec.InputOrder)
	require.Contains(t, spec.Inputs, "env")
	assert.Equal(t, workflow.ScalarString, spec.Inputs["env"].Type)

	require.Len(t, spec.Steps, 2)
	assert.Equal(t, "fetch", spec.Steps[0].ID)
	assert.Equal(t, []string{"fetch"}, spec.Steps[1].DependsOn)
	assert.ElementsMatch(t, []string{"env", "replicas"}, spec.Steps[1].WithOrder)

	require.NotNil(t, spec.Steps[1].Repeat)
	assert.Equal(t, "5s", spec.Steps[1].Repeat.Every)
	assert.Equal(t, 12, spec.Steps[1].Repeat.MaxAttempts)
}

func TestParseWorkflowManifestRejectsBadIdentifier(t *testing.T) {
	_, err := ParseWorkflowManifest([]byte("workflow: \"bad id!\"\nsteps: []\n"))
	assert.Error(t, err)
}

func TestParseWorkflowManifestAcceptsValidSchedule(t *testing.T) {
	spec, err := ParseWorkflowManifest([]byte("workflow: nightly\nschedule: \"0 2 * * *\"\nsteps: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", spec.Schedule)
}

func TestParseWorkflowManifestRejectsInvalidSchedule(t *testing.T) {
	_, err := ParseWorkflowManifest([]byte("workflow: nightly\nschedule: \"not a cron expr\"\nsteps: []\n"))
	assert.Error(t, err)
}

func TestLoadWorkflowDirSortsByName(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/workflows/b.yaml", []byte("workflow: b\nsteps: []\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/workflows/a.json", []byte(`{"workflow":"a","steps":[]}`), 0o644))

	specs, err := LoadWorkflowDir(fs, "/workflows")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Workflow)
	assert.Equal(t, "b", specs[1].Workflow)
}
