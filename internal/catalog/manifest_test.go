package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/workflow"
)

func TestManifestRoundTrip(t *testing.T) {
	m := Manifest{
		Catalog: workflow.Catalog{
			Title:           "apps",
			BaseURLs:        []string{"https://a", "https://b"},
			SelectedBaseURL: 1,
			Enabled:         true,
		},
		Commands: []workflow.CommandSpec{
			{Group: "apps", Name: "apps:list", Summary: "list"},
			{Group: "apps", Name: "apps:get", Summary: "get"},
		},
	}
	data, err := EncodeManifest(m)
	require.NoError(t, err)

	decoded, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m.Catalog.Title, decoded.Catalog.Title)
	assert.Equal(t, m.Catalog.SelectedBaseURL, decoded.Catalog.SelectedBaseURL)
	require.Len(t, decoded.Commands, 2)
	assert.Equal(t, "apps:get", decoded.Commands[1].Name)
}

func TestDecodeManifest_BadMagic(t *testing.T) {
	_, err := DecodeManifest([]byte("not a manifest"))
	require.Error(t, err)
}
