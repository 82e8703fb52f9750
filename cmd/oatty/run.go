package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oatty/internal/config"
	"oatty/internal/executor"
	"oatty/internal/history"
	"oatty/internal/runner"
	"oatty/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow",
	Long:  "Execute a workflow manifest by its declared `workflow` id, resolving templates and dispatching each step through the registered tool servers and HTTP commands.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowRun,
}

func init() {
	runCmd.Flags().String("input", "", "Input JSON object for the workflow (overrides input defaults by key)")
	runCmd.Flags().Bool("continue-on-failure", false, "Keep executing steps after one fails")
	runCmd.Flags().Bool("no-history", false, "Skip writing a run-history record")
	runCmd.Flags().Bool("dry-run", false, "Walk the workflow without side effects, echoing each step's resolved inputs")
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	workflowID := args[0]
	inputJSON, _ := cmd.Flags().GetString("input")
	continueOnFailure, _ := cmd.Flags().GetBool("continue-on-failure")
	skipHistory, _ := cmd.Flags().GetBool("no-history")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if dryRun {
		a.engine = executor.New(runner.EchoRunner{})
		skipHistory = true
	}

	spec, err := findWorkflowSpec(a, workflowID)
	if err != nil {
		return err
	}

	inputs, err := buildInputs(spec, inputJSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := workflow.NewRunContext(inputs, envMap())
	a.engine.Policy.ContinueOnFailure = continueOnFailure

	runID := history.NewRunID()
	fmt.Printf("Running workflow %q (run %s)\n", workflowID, runID)

	results, err := a.engine.Run(ctx, spec, rc, ctx.Done())

	failed := false
	for _, r := range results {
		status := string(r.Status)
		fmt.Printf("  %-20s %s (attempts=%d)\n", r.ID, status, r.Attempts)
		for _, line := range r.Logs {
			fmt.Printf("      %s\n", line)
		}
		if r.Status == workflow.StepFailed {
			failed = true
		}
	}

	if !skipHistory {
		inputsJSON, _ := json.Marshal(rawInputs(inputs))
		rec := history.RecordForRun(workflowID, runID, results, inputsJSON, time.Now())
		if herr := a.history.Append(rec); herr != nil {
			fmt.Printf("warning: failed to write history record: %v\n", herr)
		}
	}

	if err != nil {
		return fmt.Errorf("workflow run halted: %w", err)
	}
	if failed {
		return fmt.Errorf("workflow %q completed with a failed step", workflowID)
	}
	fmt.Println("Workflow completed successfully")
	return nil
}

// findWorkflowSpec loads every manifest in the workflows directory and
// returns the one whose declared id matches workflowID.
func findWorkflowSpec(a *app, workflowID string) (workflow.Spec, error) {
	specs, err := config.LoadWorkflowDir(a.fs, config.WorkflowsDir())
	if err != nil {
		return workflow.Spec{}, fmt.Errorf("load workflows: %w", err)
	}
	for _, s := range specs {
		if s.Workflow == workflowID {
			return s, nil
		}
	}
	return workflow.Spec{}, fmt.Errorf("workflow %q not found in %s", workflowID, config.WorkflowsDir())
}

// buildInputs merges a workflow's declared input defaults with an
// optional --input JSON object, which wins on key collision.
func buildInputs(spec workflow.Spec, inputJSON string) (map[string]json.RawMessage, error) {
	inputs := make(map[string]json.RawMessage, len(spec.Inputs))
	for name, in := range spec.Inputs {
		if len(in.Default) > 0 {
			inputs[name] = in.Default
		}
	}
	if strings.TrimSpace(inputJSON) == "" {
		return inputs, nil
	}
	var overrides map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inputJSON), &overrides); err != nil {
		return nil, fmt.Errorf("invalid --input JSON: %w", err)
	}
	for k, v := range overrides {
		inputs[k] = v
	}
	return inputs, nil
}

func rawInputs(inputs map[string]json.RawMessage) map[string]json.RawMessage {
	if inputs == nil {
		return map[string]json.RawMessage{}
	}
	return inputs
}

func envMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
