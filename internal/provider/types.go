// Package provider is the value-provider registry: a TTL-indexed,
// in-flight-deduplicated cache of candidate values for workflow inputs
// and argument completion, with field-selection inference over a
// provider's declared contract.
package provider

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"oatty/internal/workflow"
)

// SelectionSource records how a FieldSelection was derived.
type SelectionSource string

const (
	SourceExplicit       SelectionSource = "Explicit"
	SourceByTags         SelectionSource = "ByTags"
	SourceByNames        SelectionSource = "ByNames"
	SourceRequiresChoice SelectionSource = "RequiresChoice"
)

// SelectSpec is an optional explicit field-selection override.
type SelectSpec struct {
	ValueField   string
	DisplayField string
	IDField      string
}

// FieldSelection is the resolved value/display/id field mapping used to
// present provider results.
type FieldSelection struct {
	ValueField   string
	DisplayField string
	IDField      string
	Source       SelectionSource
}

// Suggestion pairs a provider result's coerced value with a
// human-readable display label and the raw item, so a consumer gets a
// label distinct from the wire value without re-deriving field
// selection.
type Suggestion struct {
	Value   any
	Display any
	Raw     json.RawMessage
}

// BuildSuggestions projects a list of provider result items into
// display-ready suggestions using the resolved field selection.
func BuildSuggestions(items []any, sel FieldSelection) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		s := Suggestion{Raw: raw}
		if m, ok := item.(map[string]any); ok {
			s.Value = m[sel.ValueField]
			s.Display = m[sel.DisplayField]
		} else {
			s.Value = item
			s.Display = item
		}
		out = append(out, s)
	}
	return out, nil
}

// BuildSuggestionsFromRaw is the byte-oriented counterpart of
// BuildSuggestions: it extracts Value/Display directly from each
// provider item's raw JSON via gjson path lookups, without a full
// decode into map[string]any first. This is the path FetchValues'
// callers should prefer, since the provider cache already holds items
// as json.RawMessage.
func BuildSuggestionsFromRaw(items []json.RawMessage, sel FieldSelection) []Suggestion {
	out := make([]Suggestion, 0, len(items))
	for _, raw := range items {
		s := Suggestion{Raw: raw}
		if gjson.ValidBytes(raw) {
			parsed := gjson.ParseBytes(raw)
			if parsed.IsObject() {
				s.Value = parsed.Get(gjsonPath(sel.ValueField)).Value()
				s.Display = parsed.Get(gjsonPath(sel.DisplayField)).Value()
			} else {
				s.Value = parsed.Value()
				s.Display = parsed.Value()
			}
		}
		out = append(out, s)
	}
	return out
}

// gjsonPath escapes a field name for use as a top-level gjson path
// segment (field names containing '.' or '*' would otherwise be parsed
// as gjson wildcards/traversal).
func gjsonPath(field string) string {
	return gjson.Escape(field)
}

func hasTag(f workflow.ProviderContractField, tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// InferFieldSelection derives a FieldSelection for a provider's
// contract, honoring an optional explicit override. Precedence: explicit
// override, then tag/name-based inference from the contract, then a
// positional fallback requiring caller choice.
func InferFieldSelection(explicit *SelectSpec, contract workflow.ProviderContract) FieldSelection {
	if explicit != nil {
		idField := explicit.IDField
		if idField == "" {
			idField = explicit.ValueField
		}
		return FieldSelection{
			ValueField:   explicit.ValueField,
			DisplayField: explicit.DisplayField,
			IDField:      idField,
			Source:       SourceExplicit,
		}
	}

	var valueField, displayField string
	var valueByTag, displayByTag bool
	for _, f := range contract.Fields {
		if valueField == "" && (hasTag(f, "id") || hasTag(f, "identifier")) {
			valueField = f.Name
			valueByTag = true
		}
		if displayField == "" && hasTag(f, "display") {
			displayField = f.Name
			displayByTag = true
		}
	}
	if valueField == "" {
		for _, f := range contract.Fields {
			if f.Name == "id" {
				valueField = f.Name
				break
			}
		}
	}
	if displayField == "" {
		for _, f := range contract.Fields {
			if f.Name == "name" {
				displayField = f.Name
				break
			}
		}
	}
	if valueField != "" && displayField != "" {
		source := SourceByNames
		if valueByTag || displayByTag {
			source = SourceByTags
		}
		return FieldSelection{ValueField: valueField, DisplayField: displayField, IDField: valueField, Source: source}
	}

	first, second := "id", "name"
	if len(contract.Fields) > 0 {
		first = contract.Fields[0].Name
	}
	if len(contract.Fields) > 1 {
		second = contract.Fields[1].Name
	}
	return FieldSelection{ValueField: first, DisplayField: second, IDField: first, Source: SourceRequiresChoice}
}

// CoerceValue converts v to the target scalar type, first extracting
// value[selection.ValueField] if v is an object and a selection is
// supplied.
func CoerceValue(v any, target workflow.ScalarType, sel *FieldSelection) any {
	if m, ok := v.(map[string]any); ok && sel != nil {
		if inner, ok2 := m[sel.ValueField]; ok2 {
			v = inner
		}
	}
	switch target {
	case workflow.ScalarString:
		return coerceString(v)
	case workflow.ScalarNumber:
		return coerceNumber(v)
	case workflow.ScalarBoolean:
		return coerceBoolean(v)
	default:
		return v
	}
}

func coerceString(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func coerceNumber(v any) any {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func coerceBoolean(v any) any {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "true", "1", "yes":
			return true
		default:
			return false
		}
	case float64:
		return t != 0
	default:
		return false
	}
}
