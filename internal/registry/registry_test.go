package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/workflow"
)

func sampleCommands() []workflow.CommandSpec {
	return []workflow.CommandSpec{
		{Group: "apps", Name: "apps:list", Summary: "list apps"},
		{Group: "apps", Name: "apps:get", Summary: "get app"},
	}
}

func TestInsertCatalog_ReindexesCommands(t *testing.T) {
	r := New()
	require.NoError(t, r.InsertCatalog(workflow.Catalog{Title: "first", Enabled: true}, sampleCommands()))
	require.NoError(t, r.InsertCatalog(workflow.Catalog{Title: "second", Enabled: true}, sampleCommands()))

	for _, cmd := range r.Commands() {
		assert.Less(t, cmd.CatalogIndex, len(r.Catalogs()))
	}

	require.NoError(t, r.RemoveCatalog("first"))
	for _, cmd := range r.Commands() {
		assert.Equal(t, 0, cmd.CatalogIndex)
	}
	assert.Len(t, r.Catalogs(), 1)
	assert.Equal(t, "second", r.Catalogs()[0].Title)
}

func TestFindByGroupAndCmd(t *testing.T) {
	r := New()
	require.NoError(t, r.InsertCatalog(workflow.Catalog{Title: "cat"}, sampleCommands()))

	cmd, err := r.FindByGroupAndCmd("apps", "apps:list")
	require.NoError(t, err)
	assert.Equal(t, "apps apps:list", cmd.ID())

	_, err = r.FindByGroupAndCmd("apps", "nope")
	require.ErrorIs(t, err, ErrCommandNotFound)
}

func TestResolveBaseURLAndHeaders(t *testing.T) {
	r := New()
	cat := workflow.Catalog{
		Title:           "cat",
		BaseURLs:        []string{"https://a.example", "https://b.example"},
		SelectedBaseURL: 1,
		Headers:         map[string]string{"X-Shared": "yes", "X-Override": "catalog"},
	}
	cmds := []workflow.CommandSpec{{
		Group:   "apps",
		Name:    "apps:list",
		Headers: map[string]string{"X-Override": "command"},
	}}
	require.NoError(t, r.InsertCatalog(cat, cmds))

	cmd, err := r.FindByGroupAndCmd("apps", "apps:list")
	require.NoError(t, err)

	url, err := r.ResolveBaseURLForCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", url)

	headers, err := r.ResolveHeadersForCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, "yes", headers["X-Shared"])
	assert.Equal(t, "command", headers["X-Override"])
}

func TestProviderContract_LegacyColonKey(t *testing.T) {
	r := New()
	r.providerContracts["apps apps:list"] = workflow.ProviderContract{
		Fields: []workflow.ProviderContractField{{Name: "id", Tags: []string{"id"}}},
	}
	contract, ok := r.ProviderContract("apps:apps:list")
	require.True(t, ok)
	assert.Equal(t, "id", contract.Fields[0].Name)
}

func TestEnableDisableCatalog_UnknownCatalog(t *testing.T) {
	r := New()
	require.ErrorIs(t, r.DisableCatalog("missing"), ErrCatalogNotFound)
	require.ErrorIs(t, r.EnableCatalog("missing"), ErrCatalogNotFound)
}

func TestInsertCatalog_DuplicateTitleRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.InsertCatalog(workflow.Catalog{Title: "dup"}, nil))
	err := r.InsertCatalog(workflow.Catalog{Title: "dup"}, nil)
	require.ErrorIs(t, err, ErrDuplicateCatalogTitle)
}
