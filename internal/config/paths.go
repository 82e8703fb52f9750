package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// appDirName is the subdirectory this module claims under the
// platform's XDG config/data roots.
const appDirName = "oatty"

// configDirEnv overrides ConfigDir for tests, containers, and advanced
// setups, taking precedence over xdg.ConfigHome.
const configDirEnv = "OATTY_CONFIG_DIR"

// ConfigDir returns the platform configuration directory for oatty
// (e.g. ~/.config/oatty on Linux). The OATTY_CONFIG_DIR override is
// read through viper (see settings.go) rather than a direct os.Getenv.
func ConfigDir() string {
	if dir := ConfigDirOverride(); dir != "" {
		return dir
	}
	return filepath.Join(xdg.ConfigHome, appDirName)
}

// WorkflowsDir is the directory workflow manifests are loaded from and
// optionally watched.
func WorkflowsDir() string {
	return filepath.Join(ConfigDir(), "workflows")
}

// HistoryDir is the directory run-history journals are written to.
func HistoryDir() string {
	return filepath.Join(xdg.DataHome, appDirName, "history")
}

// CatalogsDir is the directory per-catalog binary manifests live in.
func CatalogsDir() string {
	return filepath.Join(ConfigDir(), "catalogs")
}

// KeychainPath is the default location of the file-backed secrets store
// consulted by KeychainSecretsBackend.
func KeychainPath() string {
	return filepath.Join(ConfigDir(), "secrets.json")
}

// ServerConfigPath is the default tool-server configuration file path.
func ServerConfigPath() string {
	return filepath.Join(ConfigDir(), "mcp_servers.json")
}
