// Package scheduler triggers workflow runs on their declared cron
// schedule: a *cron.Cron wrapped with entry-ID tracking so a reload
// can cleanly replace a workflow's existing job before adding its new
// one, plus a bounded-timeout Stop.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"oatty/internal/workflow"
)

// RunFunc triggers one scheduled execution of spec. Errors are logged,
// not returned to the caller, since a single run's failure must never
// stop the scheduler from firing the next entry.
type RunFunc func(ctx context.Context, spec workflow.Spec) error

// Scheduler is a cron-driven trigger for every workflow.Spec carrying a
// non-empty Schedule field.
type Scheduler struct {
	cron *cron.Cron
	run  RunFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler that invokes run for every due workflow. The
// underlying cron.Cron uses the library's standard 5-field parser
// (minute precision), matching the format workflowloader validates
// Schedule against at manifest-load time.
func New(run RunFunc) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.New(log.Writer(), "scheduler: ", log.LstdFlags))
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(logger)),
		run:     run,
		entries: make(map[string]cron.EntryID),
	}
}

// Load (re)schedules every spec with a non-empty Schedule, replacing
// any existing entry for the same workflow id.
func (s *Scheduler) Load(specs []workflow.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		if spec.Schedule == "" {
			continue
		}
		if err := s.scheduleLocked(spec); err != nil {
			return fmt.Errorf("schedule workflow %q: %w", spec.Workflow, err)
		}
	}
	return nil
}

func (s *Scheduler) scheduleLocked(spec workflow.Spec) error {
	if id, ok := s.entries[spec.Workflow]; ok {
		s.cron.Remove(id)
		delete(s.entries, spec.Workflow)
	}
	id, err := s.cron.AddFunc(spec.Schedule, func() {
		if err := s.run(context.Background(), spec); err != nil {
			log.Printf("scheduler: workflow %q failed: %v", spec.Workflow, err)
		}
	})
	if err != nil {
		return err
	}
	s.entries[spec.Workflow] = id
	return nil
}

// Start begins firing scheduled jobs in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop requests a graceful shutdown, waiting up to timeout for any
// in-flight jobs to return before giving up.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ScheduledWorkflows returns the ids of every workflow currently
// carrying an active cron entry.
func (s *Scheduler) ScheduledWorkflows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}
