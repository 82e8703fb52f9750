package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"oatty/internal/catalog"
	"oatty/internal/clientmanager"
	"oatty/internal/config"
	"oatty/internal/executor"
	"oatty/internal/history"
	"oatty/internal/mcpclient"
	"oatty/internal/provider"
	"oatty/internal/registry"
	"oatty/internal/runner"
)

// providerCacheCapacity and defaultProviderCacheTTL size the
// value-provider cache; see internal/provider for the TTL/LRU contract
// they configure. The TTL is overridable via OATTY_PROVIDER_CACHE_TTL_SECONDS,
// bound through config.ProviderCacheTTL (see internal/config/settings.go).
const (
	providerCacheCapacity   = 256
	defaultProviderCacheTTL = 5 * time.Minute
)

// embeddedManifestJSON is the builtin catalog bundled at build time; the
// registry starts from it before any on-disk catalogs are loaded.
//
//go:embed manifest.json
var embeddedManifestJSON []byte

// app is the process-wide composition root: every long-lived collaborator
// a subcommand needs, wired once in newApp and threaded through via
// cobra.Command closures.
type app struct {
	fs      afero.Fs
	cfgRoot string

	registry *registry.Registry
	catalogs *catalog.Manager
	clients  *clientmanager.Manager
	secrets  config.SecretsBackend
	runner   runner.Runner
	engine   *executor.Engine
	history  *history.Writer
	provider *provider.Registry
}

// newApp wires the full collaborator graph against the real filesystem,
// loading whatever tool-server configuration and catalogs already exist
// on disk.
func newApp() (*app, error) {
	fs := afero.NewOsFs()

	reg, err := registry.FromEmbeddedManifest(embeddedManifestJSON)
	if err != nil {
		return nil, fmt.Errorf("load builtin manifest: %w", err)
	}
	store := catalog.NewStore(fs, config.CatalogsDir())
	catMgr := catalog.NewManager(reg, store)
	if err := loadCatalogsFromDisk(reg, store); err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}

	backend := config.SelectSecretsBackend(config.SecretsBackendName(), fs, config.KeychainPath())

	clients := clientmanager.New()
	if err := registerToolServers(fs, clients, backend); err != nil {
		return nil, fmt.Errorf("load tool servers: %w", err)
	}

	run := runner.NewPluginRunner(reg, clients)

	providerRegistry, err := provider.NewRegistry(providerCacheCapacity, providerCacheTTL(), newProviderFetch(run))
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	return &app{
		fs:       fs,
		cfgRoot:  config.ConfigDir(),
		registry: reg,
		catalogs: catMgr,
		clients:  clients,
		secrets:  backend,
		runner:   run,
		engine:   executor.New(run),
		history:  history.NewWriter(fs, config.HistoryDir()),
		provider: providerRegistry,
	}, nil
}

// providerCacheTTL honors OATTY_PROVIDER_CACHE_TTL_SECONDS when set to a
// positive integer, else falls back to defaultProviderCacheTTL.
func providerCacheTTL() time.Duration {
	return config.ProviderCacheTTL(defaultProviderCacheTTL)
}

// loadCatalogsFromDisk re-hydrates the registry from the config index
// and its referenced manifests, the inverse of catalog.Manager's replace
// protocol write path.
func loadCatalogsFromDisk(reg *registry.Registry, store *catalog.Store) error {
	idx, err := store.Load()
	if err != nil {
		return err
	}
	for _, entry := range idx.Catalogs {
		data, err := afero.ReadFile(store.Fs, entry.ManifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read manifest %s: %w", entry.ManifestPath, err)
		}
		manifest, err := catalog.DecodeManifest(data)
		if err != nil {
			return fmt.Errorf("decode manifest %s: %w", entry.ManifestPath, err)
		}
		if err := reg.InsertCatalog(manifest.Catalog, manifest.Commands); err != nil {
			return fmt.Errorf("insert catalog %s: %w", entry.Title, err)
		}
	}
	return nil
}

// registerToolServers loads the mcpServers config file (if any) and
// registers every non-disabled entry with the client manager, resolving
// ${env:..}/${secret:..} interpolation through backend first.
func registerToolServers(fs afero.Fs, clients *clientmanager.Manager, backend config.SecretsBackend) error {
	path := config.ServerConfigPath()
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		return nil
	}
	root, err := config.LoadServerConfig(fs, path)
	if err != nil {
		return err
	}
	for name, srv := range root.McpServers {
		if srv.Disabled {
			continue
		}
		resolved, err := resolveServerConfig(name, srv, backend)
		if err != nil {
			return fmt.Errorf("resolve server %q: %w", name, err)
		}
		if err := clients.AddServer(resolved); err != nil {
			return fmt.Errorf("register server %q: %w", name, err)
		}
	}
	return nil
}

// resolveServerConfig interpolates secrets/env references in a server's
// command, args, env values, headers, and auth fields, and flattens its
// ordered env entries into the map mcpclient.ServerConfig expects.
func resolveServerConfig(name string, src config.ServerConfig, backend config.SecretsBackend) (mcpclient.ServerConfig, error) {
	command, err := config.Interpolate(src.Command, backend)
	if err != nil {
		return mcpclient.ServerConfig{}, err
	}
	args := make([]string, len(src.Args))
	for i, a := range src.Args {
		v, err := config.Interpolate(a, backend)
		if err != nil {
			return mcpclient.ServerConfig{}, err
		}
		args[i] = v
	}
	env := make(map[string]string, len(src.Env))
	for _, e := range src.Env {
		v, err := config.Interpolate(e.Value, backend)
		if err != nil {
			return mcpclient.ServerConfig{}, err
		}
		env[e.Key] = v
	}
	baseURL, err := config.Interpolate(src.BaseURL, backend)
	if err != nil {
		return mcpclient.ServerConfig{}, err
	}
	headers := make(map[string]string, len(src.Headers))
	for k, v := range src.Headers {
		rv, err := config.Interpolate(v, backend)
		if err != nil {
			return mcpclient.ServerConfig{}, err
		}
		headers[k] = rv
	}
	var auth *mcpclient.AuthConfig
	if src.Auth != nil {
		token, err := config.Interpolate(src.Auth.Token, backend)
		if err != nil {
			return mcpclient.ServerConfig{}, err
		}
		password, err := config.Interpolate(src.Auth.Password, backend)
		if err != nil {
			return mcpclient.ServerConfig{}, err
		}
		auth = &mcpclient.AuthConfig{
			Scheme:      src.Auth.Scheme,
			Username:    src.Auth.Username,
			Password:    password,
			Token:       token,
			HeaderName:  src.Auth.HeaderName,
			Interactive: src.Auth.Interactive,
		}
	}

	return mcpclient.ServerConfig{
		Name:     name,
		Command:  command,
		Args:     args,
		Cwd:      src.Cwd,
		Env:      env,
		BaseURL:  baseURL,
		Headers:  headers,
		Auth:     auth,
		Disabled: src.Disabled,
		Tags:     src.Tags,
	}, nil
}

// newProviderFetch adapts the command runner into provider.FetchFunc:
// the provider id is a "<group> <name>" run id, args become the step's
// `with` map, and the result is coerced into the array shape the
// provider cache stores per entry.
func newProviderFetch(r runner.Runner) provider.FetchFunc {
	return func(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error) {
		if strings.Contains(providerID, ":") && !strings.Contains(providerID, " ") {
			providerID = strings.Replace(providerID, ":", " ", 1)
		}
		with := make(map[string]json.RawMessage, len(args))
		for k, v := range args {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode provider argument %q: %w", k, err)
			}
			with[k] = raw
		}
		out, err := r.Run(ctx, providerID, with, nil)
		if err != nil {
			return nil, err
		}
		return coerceToItemSlice(out)
	}
}

// coerceToItemSlice accepts either a JSON array or a single JSON object,
// normalising both to the slice shape the provider cache stores.
func coerceToItemSlice(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	return []json.RawMessage{data}, nil
}
