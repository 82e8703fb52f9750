// Package config loads and validates the two on-disk document shapes
// the rest of the module depends on: tool-server configuration
// (mcpServers) and workflow manifests, plus the `${env:...}`/
// `${secret:...}` string interpolation both documents allow. Loading
// goes through afero; directory resolution through github.com/adrg/xdg.
package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

var (
	serverNameRe = regexp.MustCompile(`^[a-z0-9._-]+$`)
	envKeyRe     = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// EnvEntry is one subprocess environment variable, accepted either as
// an array of {key, value} objects or a plain string-keyed object.
type EnvEntry struct {
	Key   string
	Value string
}

// AuthConfig describes how an HTTP tool-server transport authenticates.
type AuthConfig struct {
	Scheme      string `json:"scheme,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Token       string `json:"token,omitempty"`
	HeaderName  string `json:"headerName,omitempty"`
	Interactive bool   `json:"interactive,omitempty"`
}

// ServerConfig is one entry of `mcpServers`. Exactly one of the
// subprocess fields (Command) or the HTTP fields (BaseURL) is expected
// to be set; both are accepted on the struct so validation can produce
// a clear ConfigError when neither or both are present.
type ServerConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []EnvEntry
	Cwd     string `json:"cwd,omitempty"`

	BaseURL string            `json:"baseUrl,omitempty"`
	Headers map[string]string `json:"-"`
	Auth    *AuthConfig       `json:"auth,omitempty"`

	Disabled bool     `json:"disabled,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// HTTPServerConfig is the optional embedded HTTP command server.
type HTTPServerConfig struct {
	AutoStart   bool   `json:"autoStart,omitempty"`
	BindAddress string `json:"bindAddress,omitempty"`
}

// RootConfig is the full tool-server configuration document.
type RootConfig struct {
	McpServers map[string]ServerConfig `json:"mcpServers"`
	HTTPServer HTTPServerConfig        `json:"httpServer"`
}

// serverConfigWire is the JSON-decode shape: Env and Headers accept
// either an array-of-objects or a plain object, which requires custom
// unmarshaling since encoding/json can't express a union field.
type serverConfigWire struct {
	Command  string          `json:"command,omitempty"`
	Args     []string        `json:"args,omitempty"`
	Env      json.RawMessage `json:"env,omitempty"`
	Cwd      string          `json:"cwd,omitempty"`
	BaseURL  string          `json:"baseUrl,omitempty"`
	Headers  json.RawMessage `json:"headers,omitempty"`
	Auth     *AuthConfig     `json:"auth,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
}

// UnmarshalJSON implements the env/headers union-shape decode.
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	var wire serverConfigWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Command = wire.Command
	s.Args = wire.Args
	s.Cwd = wire.Cwd
	s.BaseURL = wire.BaseURL
	s.Auth = wire.Auth
	s.Disabled = wire.Disabled
	s.Tags = wire.Tags

	env, err := decodeEnvEntries(wire.Env)
	if err != nil {
		return fmt.Errorf("decode env: %w", err)
	}
	s.Env = env

	headers, err := decodeStringMap(wire.Headers)
	if err != nil {
		return fmt.Errorf("decode headers: %w", err)
	}
	s.Headers = headers
	return nil
}

func decodeEnvEntries(raw json.RawMessage) ([]EnvEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asArray []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &asArray); err == nil {
		out := make([]EnvEntry, 0, len(asArray))
		for _, e := range asArray {
			out = append(out, EnvEntry{Key: e.Key, Value: e.Value})
		}
		return out, nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("env must be an array of {key,value} or an object: %w", err)
	}
	out := make([]EnvEntry, 0, len(asMap))
	for k, v := range asMap {
		out = append(out, EnvEntry{Key: k, Value: v})
	}
	return out, nil
}

func decodeStringMap(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asArray []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &asArray); err == nil {
		out := make(map[string]string, len(asArray))
		for _, e := range asArray {
			out[e.Key] = e.Value
		}
		return out, nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("must be an array of {key,value} or an object: %w", err)
	}
	return asMap, nil
}

// LoadServerConfig reads and validates a tool-server configuration file
// from fs.
func LoadServerConfig(fs afero.Fs, path string) (RootConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return RootConfig{}, fmt.Errorf("read server config: %w", err)
	}
	var cfg RootConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RootConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return RootConfig{}, err
	}
	return cfg, nil
}

// ValidateServerConfig enforces the naming and transport rules
// described for the tool-server configuration document.
func ValidateServerConfig(cfg RootConfig) error {
	for name, srv := range cfg.McpServers {
		if !serverNameRe.MatchString(name) {
			return fmt.Errorf("invalid server name %q: must match %s", name, serverNameRe.String())
		}
		if err := validateServer(srv); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	return nil
}

func validateServer(srv ServerConfig) error {
	isSubprocess := srv.Command != ""
	isHTTP := srv.BaseURL != ""
	if isSubprocess == isHTTP {
		return fmt.Errorf("exactly one of command or baseUrl must be set")
	}
	if isHTTP {
		if !strings.HasPrefix(srv.BaseURL, "http://") && !strings.HasPrefix(srv.BaseURL, "https://") {
			return fmt.Errorf("baseUrl %q must use http or https scheme", srv.BaseURL)
		}
	}
	for _, e := range srv.Env {
		if !envKeyRe.MatchString(e.Key) {
			return fmt.Errorf("invalid env key %q: must match %s", e.Key, envKeyRe.String())
		}
	}
	for name := range srv.Headers {
		if name == "" {
			return fmt.Errorf("header name must not be empty")
		}
		if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
			return fmt.Errorf("header name %q contains control characters", name)
		}
	}
	return nil
}
