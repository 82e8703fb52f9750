package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oatty/internal/config"
	"oatty/internal/history"
	"oatty/internal/scheduler"
	"oatty/internal/workflow"
)

// schedulerStopTimeout bounds how long `schedule` waits for an
// in-flight scheduled run to finish before forcing shutdown.
const schedulerStopTimeout = 10 * time.Second

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run workflows on their declared cron schedule",
	Long:  "Loads every workflow manifest with a non-empty `schedule` field and triggers a run each time its cron expression fires, until interrupted.",
	RunE:  runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	specs, err := config.LoadWorkflowDir(a.fs, config.WorkflowsDir())
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	sched := scheduler.New(func(ctx context.Context, spec workflow.Spec) error {
		return runScheduledWorkflow(ctx, a, spec)
	})
	if err := sched.Load(specs); err != nil {
		return err
	}

	due := sched.ScheduledWorkflows()
	if len(due) == 0 {
		fmt.Println("no workflows declare a schedule; nothing to do")
		return nil
	}
	fmt.Printf("scheduling %d workflow(s): %v\n", len(due), due)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, werr := config.NewWorkflowWatcher(config.WorkflowsDir())
	if werr != nil {
		fmt.Printf("warning: workflow hot reload disabled: %v\n", werr)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
		go reloadSchedulesOnChange(ctx, a, sched, watcher)
	}

	sched.Start()
	<-ctx.Done()
	fmt.Println("stopping scheduler...")
	sched.Stop(schedulerStopTimeout)
	return nil
}

// reloadSchedulesOnChange re-reads the workflows directory whenever the
// watcher reports a manifest change, replacing the scheduler's entries
// in place. A manifest that fails to load leaves the previous schedule
// untouched.
func reloadSchedulesOnChange(ctx context.Context, a *app, sched *scheduler.Scheduler, watcher *config.WorkflowWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Reload:
			specs, err := config.LoadWorkflowDir(a.fs, config.WorkflowsDir())
			if err != nil {
				fmt.Printf("warning: reload workflows: %v\n", err)
				continue
			}
			if err := sched.Load(specs); err != nil {
				fmt.Printf("warning: reschedule workflows: %v\n", err)
				continue
			}
			fmt.Printf("reloaded %d workflow(s)\n", len(specs))
		}
	}
}

// runScheduledWorkflow executes one cron-triggered run using the
// workflow's input defaults (there is no interactive --input flag on a schedule
// trigger) and records it the same way `oatty run` does.
func runScheduledWorkflow(ctx context.Context, a *app, spec workflow.Spec) error {
	inputs, err := buildInputs(spec, "")
	if err != nil {
		return err
	}

	rc := workflow.NewRunContext(inputs, envMap())
	runID := history.NewRunID()
	fmt.Printf("Running scheduled workflow %q (run %s)\n", spec.Workflow, runID)

	results, runErr := a.engine.Run(ctx, spec, rc, ctx.Done())

	inputsJSON, _ := json.Marshal(rawInputs(inputs))
	rec := history.RecordForRun(spec.Workflow, runID, results, inputsJSON, time.Now())
	if herr := a.history.Append(rec); herr != nil {
		fmt.Printf("warning: failed to write history record: %v\n", herr)
	}

	return runErr
}
