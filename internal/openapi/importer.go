// Package openapi parses OpenAPI 3.x documents into catalog-scoped
// command sets: one workflow.CommandSpec per (path, method) pair, with
// provider contracts inferred from list-returning operations. Parsing
// and $ref resolution use github.com/getkin/kin-openapi/openapi3.
package openapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"oatty/internal/workflow"
)

// ErrUnsupportedVersion is returned when the document's `openapi` field
// is missing or not a 3.x version, including Swagger 2 documents (which
// declare `swagger: "2.0"` instead).
var ErrUnsupportedVersion = errors.New("unsupported document version: expected OpenAPI 3.x")

// ErrMissingPaths is returned when the document has no `paths` object.
var ErrMissingPaths = errors.New("document has no paths object")

// ErrNoOperations is returned when a document's paths contain zero HTTP
// operations across the recognized methods.
var ErrNoOperations = errors.New("document declares zero http operations")

// httpMethods is the recognized operation set, in generation order.
// PathItem.Operations() keys its map by these same uppercase method
// strings.
var httpMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodOptions, http.MethodHead,
}

// ImportResult is one catalog's worth of generated commands plus any
// provider contracts inferred from list-returning operations.
type ImportResult struct {
	Catalog           workflow.Catalog
	Commands          []workflow.CommandSpec
	ProviderContracts map[string]workflow.ProviderContract
}

// versionProbe is the minimal shape preflight checks before handing the
// document to kin-openapi, so Swagger 2 input gets this package's own
// clear message instead of a loader error.
type versionProbe struct {
	OpenAPI string          `json:"openapi"`
	Swagger string          `json:"swagger"`
	Paths   json.RawMessage `json:"paths"`
}

// Import parses data (JSON or YAML) as an OpenAPI 3.x document and
// generates one catalog's commands and provider contracts. title names
// the resulting catalog; baseURL, if non-empty, seeds the catalog's
// single base URL (callers typically prefer the document's own
// `servers[0].url` when baseURL is empty).
func Import(data []byte, title, baseURL string) (ImportResult, error) {
	if err := preflight(data); err != nil {
		return ImportResult{}, err
	}
	normalized, err := normalizeToJSON(data)
	if err != nil {
		return ImportResult{}, fmt.Errorf("decode document: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(normalized)
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := loader.ResolveRefsIn(doc, nil); err != nil {
		return ImportResult{}, fmt.Errorf("resolve $ref: %w", err)
	}
	if doc.Paths == nil || len(doc.Paths.Map()) == 0 {
		return ImportResult{}, ErrMissingPaths
	}

	cat := workflow.Catalog{
		Title:        title,
		BaseURLs:     resolveBaseURLs(doc, baseURL),
		Enabled:      true,
		ImportedFrom: "openapi",
	}

	var commands []workflow.CommandSpec
	contracts := map[string]workflow.ProviderContract{}

	paths := make([]string, 0, len(doc.Paths.Map()))
	for p := range doc.Paths.Map() {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths.Value(path)
		if item == nil {
			continue
		}
		ops := operationsFor(item)
		for _, method := range httpMethods {
			op := ops[method]
			if op == nil {
				continue
			}
			cmd := commandFromOperation(path, method, item, op)
			commands = append(commands, cmd)

			if method == http.MethodGet {
				if contract, ok := inferProviderContract(op); ok {
					contracts[cmd.ID()] = contract
				}
			}
		}
	}

	if len(commands) == 0 {
		return ImportResult{}, ErrNoOperations
	}

	return ImportResult{Catalog: cat, Commands: commands, ProviderContracts: contracts}, nil
}

// preflight normalizes data to JSON (accepting either JSON or YAML
// input) and checks the version/paths shape before the document ever
// reaches kin-openapi, so Swagger 2 and structurally-empty documents
// get this package's own clear error instead of a loader error.
func preflight(data []byte) error {
	normalized, err := normalizeToJSON(data)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	var probe versionProbe
	if err := json.Unmarshal(normalized, &probe); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if probe.Swagger != "" {
		return fmt.Errorf("%w: found swagger %q, Swagger 2 documents are not supported", ErrUnsupportedVersion, probe.Swagger)
	}
	if !strings.HasPrefix(probe.OpenAPI, "3.") {
		return fmt.Errorf("%w: found openapi %q", ErrUnsupportedVersion, probe.OpenAPI)
	}
	if len(probe.Paths) == 0 {
		return ErrMissingPaths
	}
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(probe.Paths, &asObject); err != nil || len(asObject) == 0 {
		return ErrMissingPaths
	}
	return nil
}

// normalizeToJSON accepts either JSON or YAML bytes and returns an
// equivalent JSON document, converting YAML's map[any]any nodes to
// map[string]any the way json.Marshal requires.
func normalizeToJSON(data []byte) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}
	var node any
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return json.Marshal(convertYAMLToJSON(node))
}

func convertYAMLToJSON(in any) any {
	switch v := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = convertYAMLToJSON(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprintf("%v", k)] = convertYAMLToJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = convertYAMLToJSON(val)
		}
		return out
	default:
		return v
	}
}

func operationsFor(item *openapi3.PathItem) map[string]*openapi3.Operation {
	return item.Operations()
}

func resolveBaseURLs(doc *openapi3.T, explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var urls []string
	for _, s := range doc.Servers {
		if s.URL != "" {
			urls = append(urls, s.URL)
		}
	}
	return urls
}

func commandFromOperation(path, method string, item *openapi3.PathItem, op *openapi3.Operation) workflow.CommandSpec {
	group, name := commandIdentifiers(path, method, op)

	cmd := workflow.CommandSpec{
		Group:   group,
		Name:    name,
		Summary: firstNonEmpty(op.Summary, op.Description),
		Execution: workflow.Execution{
			Kind:         workflow.ExecutionHTTP,
			Method:       strings.ToUpper(method),
			PathTemplate: path,
		},
	}

	allParams := append(append([]*openapi3.ParameterRef{}, item.Parameters...), op.Parameters...)
	for _, pref := range allParams {
		p := pref.Value
		if p == nil {
			continue
		}
		switch p.In {
		case openapi3.ParameterInPath:
			cmd.Positional = append(cmd.Positional, workflow.PositionalArg{
				Name:     p.Name,
				Required: true,
				Help:     p.Description,
			})
		default:
			cmd.Flags = append(cmd.Flags, workflow.FlagArg{
				Name:        p.Name,
				Required:    p.Required,
				Type:        scalarTypeOf(schemaOf(p.Schema)),
				Description: p.Description,
			})
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		cmd.Flags = append(cmd.Flags, flagsFromBody(op.RequestBody.Value)...)
	}

	cmd.OutputSchema = outputSchemaOf(op)
	return cmd
}

// commandIdentifiers derives a stable (group, name) pair from the
// operation id when present, falling back to the first non-placeholder
// path segment plus method.
func commandIdentifiers(path, method string, op *openapi3.Operation) (string, string) {
	if op.OperationID != "" {
		parts := strings.SplitN(op.OperationID, ".", 2)
		if len(parts) == 2 {
			return parts[0], op.OperationID
		}
		return groupFromPath(path), op.OperationID
	}
	group := groupFromPath(path)
	return group, group + ":" + strings.ToLower(method)
}

func groupFromPath(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		return seg
	}
	return "root"
}

func flagsFromBody(body *openapi3.RequestBody) []workflow.FlagArg {
	media := body.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	schema := schemaOf(media.Schema)
	if schema == nil {
		return nil
	}
	required := map[string]bool{}
	for _, r := range schema.Required {
		required[r] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var flags []workflow.FlagArg
	for _, name := range names {
		propSchema := schemaOf(schema.Properties[name])
		flags = append(flags, workflow.FlagArg{
			Name:        name,
			Required:    required[name],
			Type:        scalarTypeOf(propSchema),
			Description: descriptionOf(propSchema),
		})
	}
	return flags
}

func outputSchemaOf(op *openapi3.Operation) json.RawMessage {
	if op.Responses == nil {
		return nil
	}
	for _, code := range []string{"200", "201", "default"} {
		ref := op.Responses.Value(code)
		if ref == nil || ref.Value == nil {
			continue
		}
		media := ref.Value.Content.Get("application/json")
		if media == nil || media.Schema == nil {
			continue
		}
		resolved := resolveCombinators(media.Schema)
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}

// resolveCombinators follows $ref (already resolved by the loader) and
// merges anyOf/oneOf/allOf members' properties into a single synthetic
// schema.
func resolveCombinators(ref *openapi3.SchemaRef) *openapi3.Schema {
	schema := schemaOf(ref)
	if schema == nil {
		return nil
	}
	members := append(append(append([]*openapi3.SchemaRef{}, schema.AllOf...), schema.AnyOf...), schema.OneOf...)
	if len(members) == 0 {
		return schema
	}
	merged := *schema
	if merged.Properties == nil {
		merged.Properties = openapi3.Schemas{}
	}
	for _, m := range members {
		ms := schemaOf(m)
		if ms == nil {
			continue
		}
		for k, v := range ms.Properties {
			if _, exists := merged.Properties[k]; !exists {
				merged.Properties[k] = v
			}
		}
	}
	return &merged
}

// inferProviderContract recognizes a list-returning GET operation: a
// 200 array response whose item schema exposes an id-like and
// name-like field.
func inferProviderContract(op *openapi3.Operation) (workflow.ProviderContract, bool) {
	if op.Responses == nil {
		return workflow.ProviderContract{}, false
	}
	ref := op.Responses.Value("200")
	if ref == nil || ref.Value == nil {
		return workflow.ProviderContract{}, false
	}
	media := ref.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return workflow.ProviderContract{}, false
	}
	schema := schemaOf(media.Schema)
	if schema == nil || !schemaIsType(schema, "array") || schema.Items == nil {
		return workflow.ProviderContract{}, false
	}
	item := schemaOf(schema.Items)
	if item == nil || len(item.Properties) == 0 {
		return workflow.ProviderContract{}, false
	}

	var idField, nameField string
	names := make([]string, 0, len(item.Properties))
	for name := range item.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lower := strings.ToLower(name)
		switch {
		case idField == "" && (lower == "id" || strings.HasSuffix(lower, "_id")):
			idField = name
		case nameField == "" && (lower == "name" || lower == "title" || lower == "label"):
			nameField = name
		}
	}
	if idField == "" || nameField == "" {
		return workflow.ProviderContract{}, false
	}

	contract := workflow.ProviderContract{}
	for _, name := range names {
		tags := []string{}
		if name == idField {
			tags = append(tags, "id")
		}
		if name == nameField {
			tags = append(tags, "name")
		}
		contract.Fields = append(contract.Fields, workflow.ProviderContractField{
			Name: name,
			Type: string(scalarTypeOf(schemaOf(item.Properties[name]))),
			Tags: tags,
		})
	}
	return contract, true
}

func schemaOf(ref *openapi3.SchemaRef) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	return ref.Value
}

func schemaIsType(schema *openapi3.Schema, typ string) bool {
	if schema == nil || schema.Type == nil {
		return false
	}
	return schema.Type.Is(typ)
}

func scalarTypeOf(schema *openapi3.Schema) workflow.ScalarType {
	switch {
	case schemaIsType(schema, "integer"), schemaIsType(schema, "number"):
		return workflow.ScalarNumber
	case schemaIsType(schema, "boolean"):
		return workflow.ScalarBoolean
	default:
		return workflow.ScalarString
	}
}

func descriptionOf(schema *openapi3.Schema) string {
	if schema == nil {
		return ""
	}
	return schema.Description
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
