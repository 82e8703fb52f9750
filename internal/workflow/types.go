// Package workflow defines the data model shared across the planner,
// executor, registry, and runner: catalogs, commands, provider bindings,
// workflow specifications, and the run context a workflow carries through
// its steps.
package workflow

import (
	"encoding/json"
	"time"
)

// ScalarType is the declared type of a flag or positional argument.
type ScalarType string

const (
	ScalarString  ScalarType = "string"
	ScalarNumber  ScalarType = "number"
	ScalarBoolean ScalarType = "boolean"
)

// Catalog is a named, orderable collection of commands persisted to a
// single on-disk manifest file.
type Catalog struct {
	Title           string
	BaseURLs        []string
	SelectedBaseURL int
	Enabled         bool
	ManifestPath    string
	Vendor          string
	ImportedFrom    string
	Headers         map[string]string

	// LastReplacedAt and LastManifestSize are the audit trailer
	// recorded alongside the config index entry on every successful
	// catalog replace.
	LastReplacedAt   time.Time
	LastManifestSize int64
}

// BaseURL returns the catalog's currently selected base URL, or "" if
// none is configured or the index is out of range.
func (c *Catalog) BaseURL() string {
	if c.SelectedBaseURL < 0 || c.SelectedBaseURL >= len(c.BaseURLs) {
		return ""
	}
	return c.BaseURLs[c.SelectedBaseURL]
}

// ProviderBinding attaches a value-provider command to a flag or
// positional argument.
type ProviderBinding struct {
	CommandID string
	Binds     []ProviderBind
}

// ProviderBind pairs a field already held by the run (From) with the
// argument name (ProviderKey) it should be passed as to the provider
// command.
type ProviderBind struct {
	From        string
	ProviderKey string
}

// PositionalArg describes one positional argument of a command.
type PositionalArg struct {
	Name     string
	Required bool
	Help     string
	Provider *ProviderBinding
}

// FlagArg describes one flag argument of a command.
type FlagArg struct {
	Name        string
	Required    bool
	Type        ScalarType
	Enum        []string
	Default     json.RawMessage
	Description string
	Provider    *ProviderBinding
}

// ExecutionKind discriminates how a command is dispatched.
type ExecutionKind string

const (
	ExecutionHTTP       ExecutionKind = "http"
	ExecutionToolServer ExecutionKind = "tool_server"
)

// Execution is the discriminated dispatch target of a command.
type Execution struct {
	Kind ExecutionKind

	// HTTP fields.
	Method            string
	PathTemplate      string
	ServiceIdentifier string

	// Tool-server fields.
	PluginName string
	ToolName   string
}

// ProviderContractField describes one field of a provider's declared
// return shape.
type ProviderContractField struct {
	Name string
	Type string
	Tags []string
}

// ProviderContract is the declared return schema of a provider command.
type ProviderContract struct {
	Fields []ProviderContractField
}

// CommandSpec is one callable endpoint or tool.
type CommandSpec struct {
	Group      string
	Name       string
	Summary    string
	Positional []PositionalArg
	Flags      []FlagArg
	Execution  Execution
	OutputSchema json.RawMessage
	Headers    map[string]string

	// CatalogIndex is the position of the owning catalog in the
	// registry's catalog slice. Reindexed on every catalog mutation.
	CatalogIndex int
}

// ID returns the canonical whitespace-joined identifier, e.g.
// "apps apps:list".
func (c *CommandSpec) ID() string {
	return c.Group + " " + c.Name
}

// InputSpec describes one named workflow input.
type InputSpec struct {
	Name        string
	Type        ScalarType
	Default     json.RawMessage
	Description string
	Prompt      string
}

// RepeatSpec is a step's polling directive.
type RepeatSpec struct {
	Until       string
	Every       string
	Timeout     string
	MaxAttempts int
}

// StepSpec is one node in a workflow specification.
type StepSpec struct {
	ID             string
	DependsOn      []string
	Run            string
	With           map[string]json.RawMessage
	WithOrder      []string
	Body           json.RawMessage
	If             string
	Repeat         *RepeatSpec
	OutputContract json.RawMessage
}

// Spec is a complete workflow specification.
type Spec struct {
	Workflow   string
	Name       string
	Inputs     map[string]InputSpec
	InputOrder []string
	Steps      []StepSpec

	// Schedule is an optional cron expression (standard 5-field,
	// minute-precision) triggering this workflow on a recurring basis
	// via `oatty schedule`. Empty means the workflow only runs on
	// explicit `oatty run` invocation.
	Schedule string
}

// StepStatus is the terminal disposition of one step's execution.
type StepStatus string

const (
	StepSucceeded StepStatus = "Succeeded"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
)

// StepResult is the recorded outcome of one step.
type StepResult struct {
	ID       string
	Status   StepStatus
	Output   json.RawMessage
	Logs     []string
	Attempts int
}

// RunContext is the accumulating state a workflow run carries through
// its steps.
type RunContext struct {
	Inputs map[string]json.RawMessage
	Env    map[string]string
	Steps  map[string]json.RawMessage
}

// NewRunContext builds an empty run context ready for a fresh run.
func NewRunContext(inputs map[string]json.RawMessage, env map[string]string) *RunContext {
	if inputs == nil {
		inputs = map[string]json.RawMessage{}
	}
	if env == nil {
		env = map[string]string{}
	}
	return &RunContext{
		Inputs: inputs,
		Env:    env,
		Steps:  map[string]json.RawMessage{},
	}
}

// AsJSON renders the whole run context as a generic JSON tree, the shape
// the template resolver walks for `inputs.`/`env.`/`steps.` lookups.
func (rc *RunContext) AsJSON() map[string]any {
	inputs := map[string]any{}
	for k, v := range rc.Inputs {
		var val any
		_ = json.Unmarshal(v, &val)
		inputs[k] = val
	}
	env := map[string]any{}
	for k, v := range rc.Env {
		env[k] = v
	}
	steps := map[string]any{}
	for k, v := range rc.Steps {
		var val any
		_ = json.Unmarshal(v, &val)
		steps[k] = val
	}
	return map[string]any{
		"inputs": inputs,
		"env":    env,
		"steps":  steps,
	}
}
