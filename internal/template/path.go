// Package template implements the `${{ expr }}` value-template resolver
// and the boolean condition grammar evaluated over a workflow run
// context (inputs/env/steps).
package template

import "strconv"

// splitSegments breaks a path expression into its dot/bracket segments.
// "steps.x[0].service.id" -> ["steps", "x", "0", "service", "id"].
func splitSegments(path string) []string {
	var segs []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			segs = append(segs, string(cur))
			cur = cur[:0]
		}
	}
	i, n := 0, len(path)
	for i < n {
		c := path[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			j := i + 1
			for j < n && path[j] != ']' {
				j++
			}
			if j >= n {
				segs = append(segs, path[i+1:])
				i = n
			} else {
				segs = append(segs, path[i+1:j])
				i = j + 1
			}
		default:
			cur = append(cur, c)
			i++
		}
	}
	flush()
	return segs
}

// ParseStepReference parses a path rooted at "steps." into the step id
// and the remaining dot-joined path, with a leading "output" segment
// stripped. Returns ok=false if the path is not steps-rooted.
func ParseStepReference(path string) (stepID string, rest string, ok bool) {
	segs := splitSegments(path)
	if len(segs) == 0 || segs[0] != "steps" || len(segs) < 2 {
		return "", "", false
	}
	stepID = segs[1]
	remaining := segs[2:]
	if len(remaining) > 0 && remaining[0] == "output" {
		remaining = remaining[1:]
	}
	return stepID, joinDot(remaining), true
}

func joinDot(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}

// ResolvePath resolves a dotted/bracketed path against a run-context JSON
// tree (as produced by workflow.RunContext.AsJSON). Returns ok=false if
// any segment along the way fails to resolve.
func ResolvePath(ctx map[string]any, path string) (any, bool) {
	segs := splitSegments(path)
	if len(segs) == 0 {
		return nil, false
	}
	root := segs[0]
	val, ok := ctx[root]
	if !ok {
		return nil, false
	}
	rest := segs[1:]
	if root == "steps" {
		if len(rest) == 0 {
			return val, true
		}
		m, ok2 := val.(map[string]any)
		if !ok2 {
			return nil, false
		}
		val, ok = m[rest[0]]
		if !ok {
			return nil, false
		}
		rest = rest[1:]
		if len(rest) > 0 && rest[0] == "output" {
			rest = rest[1:]
		}
	}
	for _, seg := range rest {
		var ok3 bool
		val, ok3 = navigate(val, seg)
		if !ok3 {
			return nil, false
		}
	}
	return val, true
}

func navigate(cur any, seg string) (any, bool) {
	if idx, err := strconv.Atoi(seg); err == nil {
		arr, ok := cur.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		return arr[idx], true
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[seg]
	return v, ok
}
