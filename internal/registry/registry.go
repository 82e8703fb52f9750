// Package registry is the in-memory command catalog: commands imported
// from OpenAPI documents or an embedded manifest, grouped by catalog,
// looked up by canonical (group, name) identifier. The registry is a
// single mutex-guarded owning struct: a command references its catalog
// by integer index rather than a pointer, and every catalog mutation
// re-scans to fix indices in one pass.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"oatty/internal/workflow"
)

// ErrCommandNotFound is returned by FindByGroupAndCmd when no command
// matches.
var ErrCommandNotFound = errors.New("command not found")

// ErrCatalogNotFound is returned by catalog mutation operations when the
// named catalog does not exist.
var ErrCatalogNotFound = errors.New("catalog not found")

// ErrDuplicateCatalogTitle guards catalog title uniqueness.
var ErrDuplicateCatalogTitle = errors.New("catalog title already exists")

// Registry is the process-wide command catalog. It is safe for
// concurrent use: catalog mutation takes an exclusive lock; lookups
// take a shared lock.
type Registry struct {
	mu                sync.RWMutex
	catalogs          []workflow.Catalog
	commands          []workflow.CommandSpec
	providerContracts map[string]workflow.ProviderContract
}

// embeddedManifest is the on-disk shape of the build-time bundled
// manifest consumed by FromEmbeddedManifest.
type embeddedManifest struct {
	Catalog   workflow.Catalog                     `json:"catalog"`
	Commands  []workflow.CommandSpec               `json:"commands"`
	Contracts map[string]workflow.ProviderContract `json:"providerContracts"`
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{providerContracts: map[string]workflow.ProviderContract{}}
}

// FromEmbeddedManifest builds the initial registry from a manifest
// bundled at build time (see cmd/oatty for the embed site).
func FromEmbeddedManifest(data []byte) (*Registry, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var m embeddedManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse embedded manifest: %w", err)
	}
	r := New()
	if err := r.InsertCatalog(m.Catalog, m.Commands); err != nil {
		return nil, err
	}
	for k, v := range m.Contracts {
		r.providerContracts[canonicalProviderKey(k)] = v
	}
	return r, nil
}

// canonicalProviderKey normalises a provider identifier to its
// whitespace-joined canonical form. Legacy colon-form keys
// ("group:name") are accepted on read but never written.
func canonicalProviderKey(id string) string {
	if strings.Contains(id, ":") && !strings.Contains(id, " ") {
		return strings.Replace(id, ":", " ", 1)
	}
	return id
}

// InsertCatalog adds a new catalog and its commands, reindexing so every
// command's CatalogIndex agrees with the catalog's final position.
func (r *Registry) InsertCatalog(catalog workflow.Catalog, commands []workflow.CommandSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.catalogs {
		if c.Title == catalog.Title {
			return fmt.Errorf("%w: %s", ErrDuplicateCatalogTitle, catalog.Title)
		}
	}
	idx := len(r.catalogs)
	r.catalogs = append(r.catalogs, catalog)
	for _, cmd := range commands {
		cmd.CatalogIndex = idx
		r.commands = append(r.commands, cmd)
	}
	return nil
}

// RemoveCatalog deletes a catalog and all of its commands, reindexing
// every remaining command's CatalogIndex.
func (r *Registry) RemoveCatalog(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.findCatalogIndexLocked(title)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCatalogNotFound, title)
	}
	r.catalogs = append(r.catalogs[:idx], r.catalogs[idx+1:]...)
	kept := r.commands[:0]
	for _, cmd := range r.commands {
		if cmd.CatalogIndex == idx {
			continue
		}
		if cmd.CatalogIndex > idx {
			cmd.CatalogIndex--
		}
		kept = append(kept, cmd)
	}
	r.commands = kept
	return nil
}

// DisableCatalog marks a catalog disabled without removing its commands
// from the registry's index (callers typically filter on Enabled when
// routing work).
func (r *Registry) DisableCatalog(title string) error {
	return r.setEnabled(title, false)
}

// EnableCatalog marks a catalog enabled.
func (r *Registry) EnableCatalog(title string) error {
	return r.setEnabled(title, true)
}

func (r *Registry) setEnabled(title string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.findCatalogIndexLocked(title)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCatalogNotFound, title)
	}
	r.catalogs[idx].Enabled = enabled
	return nil
}

func (r *Registry) findCatalogIndexLocked(title string) int {
	for i, c := range r.catalogs {
		if c.Title == title {
			return i
		}
	}
	return -1
}

// FindByGroupAndCmd performs an exact (group, name) lookup.
func (r *Registry) FindByGroupAndCmd(group, name string) (*workflow.CommandSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.commands {
		if r.commands[i].Group == group && r.commands[i].Name == name {
			cmd := r.commands[i]
			return &cmd, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrCommandNotFound, group, name)
}

// ResolveBaseURLForCommand consults the command's catalog and its
// selected base-URL index.
func (r *Registry) ResolveBaseURLForCommand(spec *workflow.CommandSpec) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec.CatalogIndex < 0 || spec.CatalogIndex >= len(r.catalogs) {
		return "", fmt.Errorf("%w: catalog index %d out of range", ErrCatalogNotFound, spec.CatalogIndex)
	}
	return r.catalogs[spec.CatalogIndex].BaseURL(), nil
}

// ResolveHeadersForCommand merges catalog headers with command-level
// overrides (command headers win on key collision).
func (r *Registry) ResolveHeadersForCommand(spec *workflow.CommandSpec) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec.CatalogIndex < 0 || spec.CatalogIndex >= len(r.catalogs) {
		return nil, fmt.Errorf("%w: catalog index %d out of range", ErrCatalogNotFound, spec.CatalogIndex)
	}
	merged := map[string]string{}
	for k, v := range r.catalogs[spec.CatalogIndex].Headers {
		merged[k] = v
	}
	for k, v := range spec.Headers {
		merged[k] = v
	}
	return merged, nil
}

// RegisterProviderContracts merges additional provider contracts into
// the registry, keyed by their canonical identifier. Used by catalog
// import (OpenAPI-derived contracts) once a manifest is inserted.
func (r *Registry) RegisterProviderContracts(contracts map[string]workflow.ProviderContract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range contracts {
		r.providerContracts[canonicalProviderKey(k)] = v
	}
}

// ProviderContract looks up a provider's declared return schema by its
// canonical identifier, accepting legacy colon-form keys.
func (r *Registry) ProviderContract(providerID string) (workflow.ProviderContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providerContracts[canonicalProviderKey(providerID)]
	return c, ok
}

// Catalogs returns a snapshot copy of the current catalog list.
func (r *Registry) Catalogs() []workflow.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.Catalog, len(r.catalogs))
	copy(out, r.catalogs)
	return out
}

// Commands returns a snapshot copy of all registered commands.
func (r *Registry) Commands() []workflow.CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.CommandSpec, len(r.commands))
	copy(out, r.commands)
	return out
}
