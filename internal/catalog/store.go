package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// ConfigIndex is the registry configuration file: one entry per known
// catalog, enumerating title, enabled flag, manifest path, base URLs,
// selected index, vendor, and import provenance.
type ConfigIndex struct {
	Catalogs []CatalogEntry `json:"catalogs"`
}

// CatalogEntry is one row of the config index.
type CatalogEntry struct {
	Title            string    `json:"title"`
	Enabled          bool      `json:"enabled"`
	ManifestPath     string    `json:"manifestPath"`
	BaseURLs         []string  `json:"baseUrls"`
	SelectedBaseURL  int       `json:"selectedBaseUrl"`
	Vendor           string    `json:"vendor,omitempty"`
	ImportedFrom     string    `json:"importedFrom,omitempty"`
	LastReplacedAt   time.Time `json:"lastReplacedAt,omitempty"`
	LastManifestSize int64     `json:"lastManifestSize,omitempty"`
}

// Store persists the config index and catalog manifests through an
// afero filesystem, so the replace protocol is unit-testable against
// afero.NewMemMapFs() without touching disk.
type Store struct {
	Fs         afero.Fs
	Dir        string
	ConfigPath string
}

// NewStore builds a Store rooted at dir, with fs defaulting to the OS
// filesystem when nil.
func NewStore(fs afero.Fs, dir string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{Fs: fs, Dir: dir, ConfigPath: filepath.Join(dir, "registry.json")}
}

// Load reads the config index, returning an empty index if the file
// does not yet exist.
func (s *Store) Load() (ConfigIndex, error) {
	data, err := afero.ReadFile(s.Fs, s.ConfigPath)
	if os.IsNotExist(err) {
		return ConfigIndex{}, nil
	}
	if err != nil {
		return ConfigIndex{}, fmt.Errorf("read config index: %w", err)
	}
	var idx ConfigIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return ConfigIndex{}, fmt.Errorf("parse config index: %w", err)
	}
	return idx, nil
}

// Save writes the config index as formatted JSON.
func (s *Store) Save(idx ConfigIndex) error {
	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config index: %w", err)
	}
	if err := afero.WriteFile(s.Fs, s.ConfigPath, data, 0o644); err != nil {
		return fmt.Errorf("write config index: %w", err)
	}
	return nil
}

// ManifestPathFor returns the deterministic manifest file path for a
// catalog title.
func (s *Store) ManifestPathFor(title string) string {
	return filepath.Join(s.Dir, title+".manifest")
}
