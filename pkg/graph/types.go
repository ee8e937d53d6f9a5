package graph

import (
	"context"
	"fmt"
	"strings"
)

// Policy decides what a task failure means for the rest of the run
type Policy string

const (
	// PolicyFatal stops the run when the task fails (default)
	PolicyFatal Policy = "Fatal"

	// PolicyBestEffort records the failure as a warning and continues
	PolicyBestEffort Policy = "BestEffort"
)

// Action is the work a task performs. A nil Action makes the task an
// aggregate that only groups its dependencies.
type Action func(ctx context.Context) error

// Task is a named unit of work with ordered dependencies
type Task struct {
	// Name uniquely identifies the task
	Name string

	// DependsOn lists the tasks that must complete first, in the order they run
	DependsOn []string

	// Action performs the task's work
	Action Action

	// Policy controls failure handling. Empty means PolicyFatal.
	Policy Policy

	// Description is a one-line summary shown by listings
	Description string

	// Tools names the external tools the action needs
	Tools []string
}

// EffectivePolicy returns the task policy with the default applied
func (t *Task) EffectivePolicy() Policy {
	if t.Policy == "" {
		return PolicyFatal
	}
	return t.Policy
}

// IsAggregate reports whether the task has no action of its own
func (t *Task) IsAggregate() bool {
	return t.Action == nil
}

// Validate checks the task definition on its own, without looking at other tasks
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalidTask)
	}
	if strings.ContainsAny(t.Name, " \t\n=") {
		return fmt.Errorf("%w: task name %q must not contain whitespace or '='", ErrInvalidTask, t.Name)
	}

	switch t.EffectivePolicy() {
	case PolicyFatal, PolicyBestEffort:
	default:
		return fmt.Errorf("%w: task %q has unknown policy %q", ErrInvalidTask, t.Name, t.Policy)
	}

	seen := make(map[string]bool, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("%w: task %q has an empty dependency name", ErrInvalidTask, t.Name)
		}
		if seen[dep] {
			return fmt.Errorf("%w: task %q lists dependency %q twice", ErrInvalidTask, t.Name, dep)
		}
		seen[dep] = true
	}
	return nil
}

func (t *Task) clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Tools = append([]string(nil), t.Tools...)
	return &c
}
