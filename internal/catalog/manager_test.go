package catalog

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oatty/internal/registry"
	"oatty/internal/workflow"
)

func newTestManager() (*Manager, afero.Fs) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/config/oatty")
	reg := registry.New()
	return NewManager(reg, store), fs
}

// failWriteFs fails every open-for-write of one path and passes all other
// calls through, so reads of that path still succeed.
type failWriteFs struct {
	afero.Fs
	path string
}

func (f failWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.path {
		return nil, errors.New("simulated write failure")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestReplaceCatalog_FreshInsert(t *testing.T) {
	mgr, fs := newTestManager()
	m := Manifest{
		Catalog:  workflow.Catalog{Title: "apps", Enabled: true, BaseURLs: []string{"https://a"}},
		Commands: []workflow.CommandSpec{{Group: "apps", Name: "apps:list"}},
	}
	require.NoError(t, mgr.ReplaceCatalog("apps", m))

	cmd, err := mgr.Registry.FindByGroupAndCmd("apps", "apps:list")
	require.NoError(t, err)
	assert.Equal(t, "apps apps:list", cmd.ID())

	data, err := afero.ReadFile(fs, mgr.Store.ManifestPathFor("apps"))
	require.NoError(t, err)
	decoded, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, "apps", decoded.Catalog.Title)
	assert.Len(t, decoded.Commands, 1)

	files, err := afero.Glob(fs, "/config/oatty/.catalog-manifest-*.tmp")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReplaceCatalog_ReplacesExistingAndRemovesOrphan(t *testing.T) {
	mgr, fs := newTestManager()
	first := Manifest{
		Catalog:  workflow.Catalog{Title: "apps", Enabled: true},
		Commands: []workflow.CommandSpec{{Group: "apps", Name: "v1"}},
	}
	require.NoError(t, mgr.ReplaceCatalog("apps", first))
	firstPath := mgr.Store.ManifestPathFor("apps")

	second := Manifest{
		Catalog:  workflow.Catalog{Title: "apps", Enabled: true},
		Commands: []workflow.CommandSpec{{Group: "apps", Name: "v2"}},
	}
	require.NoError(t, mgr.ReplaceCatalog("apps", second))

	_, err := mgr.Registry.FindByGroupAndCmd("apps", "v1")
	assert.Error(t, err)
	cmd, err := mgr.Registry.FindByGroupAndCmd("apps", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", cmd.Name)

	data, err := afero.ReadFile(fs, firstPath)
	require.NoError(t, err)
	decoded, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, "v2", decoded.Commands[0].Name)

	assert.Len(t, mgr.Registry.Catalogs(), 1)
}

func TestReplaceCatalog_RestoresOnSaveFailure(t *testing.T) {
	mgr, fs := newTestManager()
	first := Manifest{
		Catalog:  workflow.Catalog{Title: "apps", Enabled: true},
		Commands: []workflow.CommandSpec{{Group: "apps", Name: "v1"}},
	}
	require.NoError(t, mgr.ReplaceCatalog("apps", first))

	originalData, err := afero.ReadFile(fs, mgr.Store.ManifestPathFor("apps"))
	require.NoError(t, err)

	// Writes to the config index fail while it stays readable, so
	// Store.Load succeeds and Store.Save fails.
	mgr.Store.Fs = failWriteFs{Fs: fs, path: mgr.Store.ConfigPath}

	second := Manifest{
		Catalog:  workflow.Catalog{Title: "apps", Enabled: true},
		Commands: []workflow.CommandSpec{{Group: "apps", Name: "v2"}},
	}
	err = mgr.ReplaceCatalog("apps", second)
	require.Error(t, err)
	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindSave, pe.Kind)

	fs.RemoveAll(mgr.Store.ConfigPath)
	restoredData, err := afero.ReadFile(fs, mgr.Store.ManifestPathFor("apps"))
	require.NoError(t, err)
	assert.Equal(t, originalData, restoredData)

	cmd, err := mgr.Registry.FindByGroupAndCmd("apps", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", cmd.Name)
}
