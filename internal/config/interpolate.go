package config

import (
	"encoding/json"
	"os"
	"regexp"
)

var interpolationRe = regexp.MustCompile(`\$\{(env|secret):([^}]+)\}`)

// Interpolate replaces every `${env:NAME}` and `${secret:NAME}`
// occurrence in s. env references read the process environment
// directly; secret references consult backend. A reference that fails
// to resolve returns ErrSecretNotFound, naming which reference failed.
func Interpolate(s string, backend SecretsBackend) (string, error) {
	var firstErr error
	out := interpolationRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := interpolationRe.FindStringSubmatch(match)
		kind, name := groups[1], groups[2]
		var (
			val string
			ok  bool
		)
		switch kind {
		case "env":
			val, ok = os.LookupEnv(name)
		case "secret":
			if backend != nil {
				val, ok = backend.Get(name)
			}
		}
		if !ok {
			firstErr = &ErrSecretNotFound{Kind: kind, Name: name}
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolateTree walks a generic JSON tree (as produced by
// json.Unmarshal into `any`) and interpolates every string leaf,
// returning a new tree with the same shape.
func InterpolateTree(v any, backend SecretsBackend) (any, error) {
	switch val := v.(type) {
	case string:
		return Interpolate(val, backend)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolved, err := InterpolateTree(child, backend)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolved, err := InterpolateTree(child, backend)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return val, nil
	}
}

// InterpolateJSON interpolates every string leaf in a raw JSON
// document.
func InterpolateJSON(data []byte, backend SecretsBackend) ([]byte, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	resolved, err := InterpolateTree(tree, backend)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resolved)
}
