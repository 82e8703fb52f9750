package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"oatty/internal/registry"
)

// PersistErrorKind discriminates where a catalog replace failed.
type PersistErrorKind string

const (
	KindReplace PersistErrorKind = "Replace"
	KindInsert  PersistErrorKind = "Insert"
	KindSave    PersistErrorKind = "Save"
)

// PersistError is returned by Manager.ReplaceCatalog on any failure in
// steps 3-5 of the replace protocol; the registry and on-disk state have
// already been restored to their pre-operation shape by the time this
// is returned.
type PersistError struct {
	Kind    PersistErrorKind
	Message string
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("catalog persist error (%s): %s", e.Kind, e.Message)
}

// Manager orchestrates the command registry and its on-disk persistence
// together, implementing the overwrite-safe catalog replace protocol.
type Manager struct {
	Registry *registry.Registry
	Store    *Store
}

// NewManager builds a Manager over an existing registry and store.
func NewManager(reg *registry.Registry, store *Store) *Manager {
	return &Manager{Registry: reg, Store: store}
}

// ReplaceCatalog atomically replaces the catalog named title (if it
// exists) with newManifest, per the seven-step protocol: snapshot,
// disable+remove+reindex, insert, atomic manifest write, persist config,
// restore-on-failure, orphan cleanup.
func (m *Manager) ReplaceCatalog(title string, newManifest Manifest) error {
	idx, err := m.Store.Load()
	if err != nil {
		return &PersistError{Kind: KindReplace, Message: err.Error()}
	}

	// Step 1: snapshot.
	var backupEntry *CatalogEntry
	var backupBytes []byte
	var backupManifest Manifest
	remaining := make([]CatalogEntry, 0, len(idx.Catalogs))
	for _, e := range idx.Catalogs {
		if e.Title == title {
			entry := e
			backupEntry = &entry
			continue
		}
		remaining = append(remaining, e)
	}
	if backupEntry != nil {
		backupBytes, err = afero.ReadFile(m.Store.Fs, backupEntry.ManifestPath)
		if err != nil {
			return &PersistError{Kind: KindReplace, Message: fmt.Sprintf("read backup manifest: %v", err)}
		}
		backupManifest, err = DecodeManifest(backupBytes)
		if err != nil {
			return &PersistError{Kind: KindReplace, Message: fmt.Sprintf("decode backup manifest: %v", err)}
		}
	}

	// Step 2: disable and remove existing, reindex.
	if backupEntry != nil {
		_ = m.Registry.DisableCatalog(title)
		_ = m.Registry.RemoveCatalog(title)
	}

	// Step 3: insert replacement.
	newManifest.Catalog.Title = title
	newManifest.Catalog.ManifestPath = m.Store.ManifestPathFor(title)
	if err := m.Registry.InsertCatalog(newManifest.Catalog, newManifest.Commands); err != nil {
		m.restore(title, backupEntry, backupBytes, backupManifest)
		return &PersistError{Kind: KindInsert, Message: err.Error()}
	}

	// Step 4: serialize and atomically write the manifest.
	data, err := EncodeManifest(newManifest)
	if err != nil {
		m.restore(title, backupEntry, backupBytes, backupManifest)
		return &PersistError{Kind: KindReplace, Message: err.Error()}
	}
	if err := m.atomicWrite(newManifest.Catalog.ManifestPath, data); err != nil {
		m.restore(title, backupEntry, backupBytes, backupManifest)
		return &PersistError{Kind: KindReplace, Message: err.Error()}
	}

	// Step 5: persist the updated config file.
	newEntry := CatalogEntry{
		Title:            title,
		Enabled:          newManifest.Catalog.Enabled,
		ManifestPath:     newManifest.Catalog.ManifestPath,
		BaseURLs:         newManifest.Catalog.BaseURLs,
		SelectedBaseURL:  newManifest.Catalog.SelectedBaseURL,
		Vendor:           newManifest.Catalog.Vendor,
		ImportedFrom:     newManifest.Catalog.ImportedFrom,
		LastReplacedAt:   time.Now().UTC(),
		LastManifestSize: int64(len(data)),
	}
	idx.Catalogs = append(remaining, newEntry)
	if err := m.Store.Save(idx); err != nil {
		m.restore(title, backupEntry, backupBytes, backupManifest)
		return &PersistError{Kind: KindSave, Message: err.Error()}
	}

	// Step 7: orphan cleanup. Delete the old manifest if its path
	// differs from the replacement's.
	if backupEntry != nil && backupEntry.ManifestPath != newEntry.ManifestPath {
		_ = m.Store.Fs.Remove(backupEntry.ManifestPath)
	}
	return nil
}

// restore reverses steps 2-4: puts the backup manifest bytes back at
// its original path byte-for-byte, removes the newly-inserted catalog
// entry from the registry, and reinserts the snapshotted one.
func (m *Manager) restore(title string, backupEntry *CatalogEntry, backupBytes []byte, backupManifest Manifest) {
	_ = m.Registry.RemoveCatalog(title)
	if backupEntry == nil {
		return
	}
	_ = afero.WriteFile(m.Store.Fs, backupEntry.ManifestPath, backupBytes, 0o644)
	_ = m.Registry.InsertCatalog(backupManifest.Catalog, backupManifest.Commands)
}

// atomicWrite serializes data to a uniquely-named temp file in the same
// parent directory as path, then renames over path; the rename is the
// atomic commit point.
func (m *Manager) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := m.Store.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmpName := filepath.Join(dir, fmt.Sprintf(".catalog-manifest-%d-%d.tmp", os.Getpid(), time.Now().UnixNano()))
	f, err := m.Store.Fs.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = m.Store.Fs.Remove(tmpName)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	if err := f.Close(); err != nil {
		_ = m.Store.Fs.Remove(tmpName)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := m.Store.Fs.Rename(tmpName, path); err != nil {
		_ = m.Store.Fs.Remove(tmpName)
		return fmt.Errorf("rename temp manifest: %w", err)
	}
	return nil
}
