package graph

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// TaskState represents the execution state of a task
type TaskState string

const (
	// TaskStatePending indicates the task has not started
	TaskStatePending TaskState = "Pending"

	// TaskStateRunning indicates the task action is executing
	TaskStateRunning TaskState = "Running"

	// TaskStateSucceeded indicates the task completed
	TaskStateSucceeded TaskState = "Succeeded"

	// TaskStateFailed indicates a fatal failure
	TaskStateFailed TaskState = "Failed"

	// TaskStateBestEffortFailed indicates a best-effort task failed; it still counts as complete
	TaskStateBestEffortFailed TaskState = "BestEffortFailed"
)

// Completed reports whether dependents may proceed past a task in this state
func (s TaskState) Completed() bool {
	return s == TaskStateSucceeded || s == TaskStateBestEffortFailed
}

// Terminal reports whether no further transitions are possible
func (s TaskState) Terminal() bool {
	return s.Completed() || s == TaskStateFailed
}

// TaskStatus contains the execution status of a single task
type TaskStatus struct {
	State TaskState

	// Error contains the failure message for Failed and BestEffortFailed
	Error string

	StartTime *time.Time
	EndTime   *time.Time
}

// Duration returns how long the action ran, or zero if it has not finished
func (s TaskStatus) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// ExecutionState tracks task states for one invocation
type ExecutionState struct {
	mu sync.RWMutex

	statuses map[string]*TaskStatus

	startTime time.Time
}

// NewExecutionState creates a tracker with the given tasks pending
func NewExecutionState(names []string) *ExecutionState {
	es := &ExecutionState{
		statuses:  make(map[string]*TaskStatus, len(names)),
		startTime: time.Now(),
	}
	for _, name := range names {
		es.statuses[name] = &TaskStatus{State: TaskStatePending}
	}
	return es
}

// Track adds a task in Pending state if it is not tracked yet
func (es *ExecutionState) Track(name string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.statuses[name]; !ok {
		es.statuses[name] = &TaskStatus{State: TaskStatePending}
	}
}

// GetState returns the current state of a task
func (es *ExecutionState) GetState(name string) (TaskState, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.statuses[name]
	if !found {
		return "", fmt.Errorf("task %s not tracked", name)
	}
	return status.State, nil
}

// GetStatus returns a copy of the full status of a task
func (es *ExecutionState) GetStatus(name string) (TaskStatus, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.statuses[name]
	if !found {
		return TaskStatus{}, fmt.Errorf("task %s not tracked", name)
	}
	return *status, nil
}

// SetState moves a task to a new state, rejecting invalid transitions
func (es *ExecutionState) SetState(name string, newState TaskState) error {
	return es.transition(name, newState, nil)
}

// SetFailed moves a running task to Failed or BestEffortFailed and records the error
func (es *ExecutionState) SetFailed(name string, newState TaskState, err error) error {
	if newState != TaskStateFailed && newState != TaskStateBestEffortFailed {
		return fmt.Errorf("%s is not a failure state", newState)
	}
	return es.transition(name, newState, err)
}

func (es *ExecutionState) transition(name string, newState TaskState, cause error) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.statuses[name]
	if !found {
		return fmt.Errorf("task %s not tracked", name)
	}
	if err := validateStateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for task %s: %w", name, err)
	}

	status.State = newState
	if cause != nil {
		status.Error = cause.Error()
	}

	now := time.Now()
	switch newState {
	case TaskStateRunning:
		status.StartTime = &now
	case TaskStateSucceeded, TaskStateFailed, TaskStateBestEffortFailed:
		status.EndTime = &now
	}
	return nil
}

// GetTasksInState returns the sorted names of tasks in a given state
func (es *ExecutionState) GetTasksInState(state TaskState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var names []string
	for name, status := range es.statuses {
		if status.State == state {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// GetSummary returns counts per state
func (es *ExecutionState) GetSummary() ExecutionSummary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := ExecutionSummary{
		Total:     len(es.statuses),
		StartTime: es.startTime,
	}
	for _, status := range es.statuses {
		switch status.State {
		case TaskStatePending:
			summary.Pending++
		case TaskStateRunning:
			summary.Running++
		case TaskStateSucceeded:
			summary.Succeeded++
		case TaskStateFailed:
			summary.Failed++
		case TaskStateBestEffortFailed:
			summary.BestEffortFailed++
		}
	}
	return summary
}

// ExecutionSummary provides a summary of execution state
type ExecutionSummary struct {
	Total            int
	Pending          int
	Running          int
	Succeeded        int
	Failed           int
	BestEffortFailed int
	StartTime        time.Time
}

func validateStateTransition(from, to TaskState) error {
	validTransitions := map[TaskState][]TaskState{
		TaskStatePending: {
			TaskStateRunning,
		},
		TaskStateRunning: {
			TaskStateSucceeded,
			TaskStateFailed,
			TaskStateBestEffortFailed,
		},
		TaskStateSucceeded:        {},
		TaskStateFailed:           {},
		TaskStateBestEffortFailed: {},
	}

	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}
	for _, allowedState := range allowed {
		if allowedState == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
