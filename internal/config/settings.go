package config

import (
	"time"

	"github.com/spf13/viper"
)

// settingsOnce guards the one-time binding of the ambient environment
// variables this module reads outside of any workflow/tool-server
// config file. There is no config file of its own to discover (these
// settings are env-only), so only the AutomaticEnv + BindEnv half of
// the usual viper setup applies.
var settingsOnce bool

func initSettings() {
	if settingsOnce {
		return
	}
	settingsOnce = true
	viper.AutomaticEnv()
	bindSettingsEnvVars()
}

// providerCacheTTLEnv overrides the value-provider cache TTL; mirrored in
// cmd/oatty/app.go's doc comment for providerCacheTTL.
const providerCacheTTLEnv = "OATTY_PROVIDER_CACHE_TTL_SECONDS"

// bindSettingsEnvVars explicitly binds every ambient OATTY_* environment
// variable to its viper key.
func bindSettingsEnvVars() {
	viper.BindEnv("config_dir", configDirEnv)
	viper.BindEnv("secrets_backend", "OATTY_SECRETS_BACKEND")
	viper.BindEnv("provider_cache_ttl_seconds", providerCacheTTLEnv)
}

// ConfigDirOverride returns the OATTY_CONFIG_DIR override, or "" if unset.
func ConfigDirOverride() string {
	initSettings()
	return viper.GetString("config_dir")
}

// SecretsBackendName returns the OATTY_SECRETS_BACKEND selector value, or
// "" if unset (SelectSecretsBackend treats that as "use the keychain").
func SecretsBackendName() string {
	initSettings()
	return viper.GetString("secrets_backend")
}

// ProviderCacheTTL returns the OATTY_PROVIDER_CACHE_TTL_SECONDS override
// as a duration, or fallback if unset or non-positive.
func ProviderCacheTTL(fallback time.Duration) time.Duration {
	initSettings()
	if n := viper.GetInt("provider_cache_ttl_seconds"); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
