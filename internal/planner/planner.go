// Package planner produces a dependency-ordered execution sequence from
// a workflow specification's step list, via Kahn's algorithm with
// stable insertion-order tie-breaking.
package planner

import (
	"fmt"
	"sort"

	"oatty/internal/workflow"
)

// ErrorKind discriminates a planning failure.
type ErrorKind string

const (
	DuplicateStepID   ErrorKind = "DuplicateStepId"
	UnknownDependency ErrorKind = "UnknownDependency"
	SelfDependency    ErrorKind = "SelfDependency"
	Cycle             ErrorKind = "Cycle"
)

// PlanError is returned when a step list cannot be planned.
type PlanError struct {
	Kind   ErrorKind
	Detail string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Plan runs Kahn's topological sort over the dependency graph implied by
// each step's DependsOn list, returning the steps in execution order.
func Plan(steps []workflow.StepSpec) ([]workflow.StepSpec, error) {
	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, &PlanError{Kind: DuplicateStepID, Detail: s.ID}
		}
		byID[s.ID] = i
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return nil, &PlanError{Kind: SelfDependency, Detail: s.ID}
			}
			if _, ok := byID[dep]; !ok {
				return nil, &PlanError{Kind: UnknownDependency, Detail: fmt.Sprintf("%s depends on unknown step %s", s.ID, dep)}
			}
		}
	}

	inDegree := make([]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for i, s := range steps {
		inDegree[i] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			di := byID[dep]
			dependents[di] = append(dependents[di], i)
		}
	}

	ready := []int{}
	for i := range steps {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	var order []int
	for len(ready) > 0 {
		var next []int
		sort.Ints(ready)
		for _, idx := range ready {
			order = append(order, idx)
			for _, d := range dependents[idx] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		ready = next
	}

	if len(order) != len(steps) {
		var cyclic []string
		for i, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, steps[i].ID)
			}
		}
		sort.Strings(cyclic)
		detail := ""
		for i, id := range cyclic {
			if i > 0 {
				detail += ", "
			}
			detail += id
		}
		return nil, &PlanError{Kind: Cycle, Detail: fmt.Sprintf("cycle detected among steps: %s", detail)}
	}

	result := make([]workflow.StepSpec, len(order))
	for i, idx := range order {
		result[i] = steps[idx]
	}
	return result, nil
}
