package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// StripWrapper removes a single outer `${{ … }}` wrapper from a condition
// string, if present, trimming surrounding whitespace either way.
func StripWrapper(s string) string {
	s = strings.TrimSpace(s)
	m := placeholderRe.FindStringSubmatch(s)
	if m != nil && m[0] == s {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ResolveTree walks a JSON value tree, substituting `${{ expr }}`
// placeholders found in string leaves against ctx. Returns the resolved
// tree and the list of expressions that failed to resolve (placeholders
// are left verbatim in the output when unresolved).
func ResolveTree(raw json.RawMessage, ctx map[string]any) (json.RawMessage, []string, error) {
	if len(raw) == 0 {
		return raw, nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, err
	}
	resolved, unresolved := resolveAny(v, ctx)
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, nil, err
	}
	return out, unresolved, nil
}

// ResolveMap resolves a with/body map keyed by argument name.
func ResolveMap(values map[string]json.RawMessage, ctx map[string]any) (map[string]json.RawMessage, []string, error) {
	out := make(map[string]json.RawMessage, len(values))
	var unresolved []string
	for k, raw := range values {
		resolved, uns, err := ResolveTree(raw, ctx)
		if err != nil {
			return nil, nil, err
		}
		out[k] = resolved
		unresolved = append(unresolved, uns...)
	}
	return out, unresolved, nil
}

// CollectUnresolved reports the unresolved placeholder expressions in a
// value tree without producing a resolved copy.
func CollectUnresolved(raw json.RawMessage, ctx map[string]any) []string {
	_, unresolved, err := ResolveTree(raw, ctx)
	if err != nil {
		return nil
	}
	return unresolved
}

func resolveAny(v any, ctx map[string]any) (any, []string) {
	switch t := v.(type) {
	case string:
		return resolveString(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		var uns []string
		for k, vv := range t {
			r, u := resolveAny(vv, ctx)
			out[k] = r
			uns = append(uns, u...)
		}
		return out, uns
	case []any:
		out := make([]any, len(t))
		var uns []string
		for i, vv := range t {
			r, u := resolveAny(vv, ctx)
			out[i] = r
			uns = append(uns, u...)
		}
		return out, uns
	default:
		return v, nil
	}
}

func resolveString(s string, ctx map[string]any) (any, []string) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		val, ok := ResolvePath(ctx, expr)
		if !ok {
			return s, []string{expr}
		}
		return val, nil
	}
	var sb strings.Builder
	var unresolved []string
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		expr := strings.TrimSpace(s[m[2]:m[3]])
		val, ok := ResolvePath(ctx, expr)
		if !ok {
			sb.WriteString(s[m[0]:m[1]])
			unresolved = append(unresolved, expr)
		} else {
			sb.WriteString(scalarToString(val))
		}
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), unresolved
}

func scalarToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
