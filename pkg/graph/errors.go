package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is matched by every CycleError
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownTask is returned for references to tasks that were never registered
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidTask is returned for malformed or duplicate task definitions
	ErrInvalidTask = errors.New("invalid task")

	// ErrTaskFailed is matched by every TaskExecutionError
	ErrTaskFailed = errors.New("task failed")

	// ErrBestEffort is matched by every BestEffortFailure
	ErrBestEffort = errors.New("best-effort task failed")
)

// CycleError reports a registration that would close a dependency cycle.
// Path starts and ends with the same task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// TaskExecutionError reports a fatal task failure
type TaskExecutionError struct {
	Task string
	Err  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Task, e.Err)
}

func (e *TaskExecutionError) Unwrap() []error {
	return []error{ErrTaskFailed, e.Err}
}

// BestEffortFailure records a failed best-effort task. It is a warning and
// never fails the run.
type BestEffortFailure struct {
	Task string
	Err  error
}

func (e *BestEffortFailure) Error() string {
	return fmt.Sprintf("best-effort task %q: %v", e.Task, e.Err)
}

func (e *BestEffortFailure) Unwrap() []error {
	return []error{ErrBestEffort, e.Err}
}
