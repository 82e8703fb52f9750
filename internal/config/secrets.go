package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// SecretsBackend resolves `${secret:NAME}` references at config load
// time. Two backends exist, the process environment and a local
// keychain file, selected once by OATTY_SECRETS_BACKEND.
type SecretsBackend interface {
	Get(name string) (string, bool)
}

// EnvSecretsBackend resolves secrets from the process environment,
// selected by OATTY_SECRETS_BACKEND=env.
type EnvSecretsBackend struct{}

// Get implements SecretsBackend.
func (EnvSecretsBackend) Get(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return v, ok
}

// KeychainSecretsBackend is the default backend when
// OATTY_SECRETS_BACKEND is unset or anything other than "env". It is a
// file-backed store under the config directory; OS keychain integration
// is an external collaborator and stays out of this module.
type KeychainSecretsBackend struct {
	Fs   afero.Fs
	Path string
}

// NewKeychainSecretsBackend builds a backend reading secrets from a
// flat JSON object at path.
func NewKeychainSecretsBackend(fs afero.Fs, path string) *KeychainSecretsBackend {
	return &KeychainSecretsBackend{Fs: fs, Path: path}
}

// Get implements SecretsBackend. A missing or malformed store is
// treated as "no secrets available" rather than an error, matching the
// interpolation failure being reported at the call site instead.
func (k *KeychainSecretsBackend) Get(name string) (string, bool) {
	data, err := afero.ReadFile(k.Fs, k.Path)
	if err != nil {
		return "", false
	}
	var store map[string]string
	if err := json.Unmarshal(data, &store); err != nil {
		return "", false
	}
	v, ok := store[name]
	return v, ok
}

// SelectSecretsBackend implements the OATTY_SECRETS_BACKEND selection
// rule: "env" selects the environment backend, anything else selects
// the keychain backend.
func SelectSecretsBackend(envValue string, fs afero.Fs, keychainPath string) SecretsBackend {
	if envValue == "env" {
		return EnvSecretsBackend{}
	}
	return NewKeychainSecretsBackend(fs, keychainPath)
}

// ErrSecretNotFound is returned by Interpolate when a referenced
// secret or environment variable does not resolve.
type ErrSecretNotFound struct {
	Kind string
	Name string
}

func (e *ErrSecretNotFound) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Kind, e.Name)
}
