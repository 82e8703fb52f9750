package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"oatty/internal/workflow"
)

// identifierRe is the sanitization rule for workflow, step, and input
// identifiers: trimmed, then matched against this pattern.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// scheduleParser validates a workflow's `schedule` field at load time,
// the standard 5-field (minute-precision) cron format; triggering a
// whole workflow run has no need for sub-minute precision.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// LoadWorkflowFile reads and decodes one workflow manifest. Every file
// goes through the YAML decoder, whose parser accepts JSON documents as
// a subset; the file extension is not consulted and there is no
// separate JSON parse path.
func LoadWorkflowFile(fs afero.Fs, path string) (workflow.Spec, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return workflow.Spec{}, fmt.Errorf("read workflow manifest %s: %w", path, err)
	}
	return ParseWorkflowManifest(data)
}

// ParseWorkflowManifest decodes manifest bytes into a workflow.Spec,
// preserving the declared order of `inputs` and each step's `with` map:
// encoding/json map decode does not preserve key order, so this walks
// yaml.v3's Node API (which parses JSON as well as YAML) instead of
// decoding straight into Go structs.
func ParseWorkflowManifest(data []byte) (workflow.Spec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return workflow.Spec{}, fmt.Errorf("parse workflow manifest: %w", err)
	}
	if len(root.Content) == 0 {
		return workflow.Spec{}, fmt.Errorf("empty workflow manifest")
	}
	doc := root.Content[0]
	fields, _ := mappingFields(doc)

	spec := workflow.Spec{}
	if n, ok := fields["workflow"]; ok {
		spec.Workflow = strings.TrimSpace(n.Value)
	}
	if n, ok := fields["name"]; ok {
		spec.Name = n.Value
	}
	if n, ok := fields["schedule"]; ok {
		spec.Schedule = strings.TrimSpace(n.Value)
		if spec.Schedule != "" {
			if _, err := scheduleParser.Parse(spec.Schedule); err != nil {
				return workflow.Spec{}, fmt.Errorf("invalid schedule %q: %w", spec.Schedule, err)
			}
		}
	}
	if spec.Workflow != "" && !identifierRe.MatchString(spec.Workflow) {
		return workflow.Spec{}, fmt.Errorf("invalid workflow identifier %q: must match %s", spec.Workflow, identifierRe.String())
	}

	if n, ok := fields["inputs"]; ok {
		inputs, order, err := decodeInputs(n)
		if err != nil {
			return workflow.Spec{}, err
		}
		spec.Inputs = inputs
		spec.InputOrder = order
	}

	if n, ok := fields["steps"]; ok {
		steps, err := decodeSteps(n)
		if err != nil {
			return workflow.Spec{}, err
		}
		spec.Steps = steps
	}

	return spec, nil
}

// mappingFields returns a lookup of a YAML mapping node's scalar-keyed
// children plus the declared key order.
func mappingFields(node *yaml.Node) (map[string]*yaml.Node, []string) {
	out := map[string]*yaml.Node{}
	var order []string
	if node == nil || node.Kind != yaml.MappingNode {
		return out, order
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		out[key] = node.Content[i+1]
		order = append(order, key)
	}
	return out, order
}

func decodeInputs(node *yaml.Node) (map[string]workflow.InputSpec, []string, error) {
	fields, order := mappingFields(node)
	inputs := make(map[string]workflow.InputSpec, len(fields))
	for _, name := range order {
		trimmed := strings.TrimSpace(name)
		if !identifierRe.MatchString(trimmed) {
			return nil, nil, fmt.Errorf("invalid input identifier %q: must match %s", name, identifierRe.String())
		}
		spec, err := decodeInputSpec(fields[name])
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[trimmed] = spec
	}
	return inputs, order, nil
}

func decodeInputSpec(node *yaml.Node) (workflow.InputSpec, error) {
	fields, _ := mappingFields(node)
	spec := workflow.InputSpec{Type: workflow.ScalarString}
	if n, ok := fields["type"]; ok {
		spec.Type = workflow.ScalarType(n.Value)
	}
	if n, ok := fields["description"]; ok {
		spec.Description = n.Value
	}
	if n, ok := fields["prompt"]; ok {
		spec.Prompt = n.Value
	}
	if n, ok := fields["default"]; ok {
		raw, err := nodeToJSON(n)
		if err != nil {
			return spec, err
		}
		spec.Default = raw
	}
	return spec, nil
}

func decodeSteps(node *yaml.Node) ([]workflow.StepSpec, error) {
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil, nil
	}
	steps := make([]workflow.StepSpec, 0, len(node.Content))
	for _, item := range node.Content {
		step, err := decodeStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeStep(node *yaml.Node) (workflow.StepSpec, error) {
	fields, _ := mappingFields(node)
	step := workflow.StepSpec{}

	if n, ok := fields["id"]; ok {
		step.ID = strings.TrimSpace(n.Value)
	}
	if step.ID != "" && !identifierRe.MatchString(step.ID) {
		return step, fmt.Errorf("invalid step identifier %q: must match %s", step.ID, identifierRe.String())
	}
	if n, ok := fields["run"]; ok {
		step.Run = n.Value
	}
	if n, ok := fields["if"]; ok {
		step.If = n.Value
	}
	if n, ok := fields["depends_on"]; ok {
		for _, dep := range n.Content {
			step.DependsOn = append(step.DependsOn, dep.Value)
		}
	}
	if n, ok := fields["with"]; ok {
		withFields, order := mappingFields(n)
		step.With = make(map[string]json.RawMessage, len(withFields))
		step.WithOrder = order
		for key, valNode := range withFields {
			raw, err := nodeToJSON(valNode)
			if err != nil {
				return step, fmt.Errorf("step %q: with.%s: %w", step.ID, key, err)
			}
			step.With[key] = raw
		}
	}
	if n, ok := fields["body"]; ok {
		raw, err := nodeToJSON(n)
		if err != nil {
			return step, fmt.Errorf("step %q: body: %w", step.ID, err)
		}
		step.Body = raw
	}
	if n, ok := fields["repeat"]; ok {
		repeat, err := decodeRepeat(n)
		if err != nil {
			return step, fmt.Errorf("step %q: repeat: %w", step.ID, err)
		}
		step.Repeat = repeat
	}
	if n, ok := fields["output_contract"]; ok {
		raw, err := nodeToJSON(n)
		if err != nil {
			return step, err
		}
		step.OutputContract = raw
	}
	return step, nil
}

func decodeRepeat(node *yaml.Node) (*workflow.RepeatSpec, error) {
	fields, _ := mappingFields(node)
	repeat := &workflow.RepeatSpec{}
	if n, ok := fields["until"]; ok {
		repeat.Until = n.Value
	}
	if n, ok := fields["every"]; ok {
		repeat.Every = n.Value
	}
	if n, ok := fields["timeout"]; ok {
		repeat.Timeout = n.Value
	}
	if n, ok := fields["max_attempts"]; ok {
		var m int
		if err := n.Decode(&m); err != nil {
			return nil, fmt.Errorf("max_attempts: %w", err)
		}
		repeat.MaxAttempts = m
	}
	return repeat, nil
}

// nodeToJSON decodes a YAML node into a generic Go value and re-encodes
// it as JSON, the conversion step every other RawMessage field in
// StepSpec/InputSpec needs.
func nodeToJSON(node *yaml.Node) (json.RawMessage, error) {
	var generic any
	if err := node.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// LoadWorkflowDir loads every manifest file in dir (non-recursive),
// sorted by filename for deterministic output.
func LoadWorkflowDir(fs afero.Fs, dir string) ([]workflow.Spec, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list workflows dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" || ext == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	specs := make([]workflow.Spec, 0, len(names))
	for _, name := range names {
		spec, err := LoadWorkflowFile(fs, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
