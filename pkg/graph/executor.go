package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/metrics"
)

// Report summarises one Run
type Report struct {
	// Requested holds the task names passed to Run
	Requested []string

	// Planned is the closure of Requested in execution order
	Planned []string

	// Executed lists tasks whose action ran during this Run, in order
	Executed []string

	// CacheHits lists tasks skipped because they already completed earlier in the invocation
	CacheHits []string

	// BestEffortFailures holds the warnings raised by best-effort tasks
	BestEffortFailures []*BestEffortFailure

	Duration time.Duration
}

// Warnings joins the best-effort failures, or returns nil when there are none
func (r *Report) Warnings() error {
	errs := make([]error, 0, len(r.BestEffortFailures))
	for _, f := range r.BestEffortFailures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Executor runs tasks from a TaskGraph one at a time. Completion is remembered
// across Run calls, so a task executes at most once per Executor.
type Executor struct {
	graph *TaskGraph
	state *ExecutionState
}

// NewExecutor creates an executor for the graph
func NewExecutor(g *TaskGraph) *Executor {
	return &Executor{
		graph: g,
		state: NewExecutionState(nil),
	}
}

// State returns the execution state tracker
func (e *Executor) State() *ExecutionState {
	return e.state
}

// Run executes the requested tasks and their dependencies. A fatal failure
// returns a *TaskExecutionError and no further task starts. Best-effort
// failures are collected in the report and do not affect the error.
func (e *Executor) Run(ctx context.Context, names ...string) (*Report, error) {
	start := time.Now()
	report := &Report{Requested: append([]string(nil), names...)}
	defer func() { report.Duration = time.Since(start) }()

	plan, err := e.graph.Plan(names...)
	if err != nil {
		return report, err
	}
	report.Planned = plan

	logger := log.FromContext(ctx)
	logger.V(1).Info("Planned tasks", "requested", names, "plan", plan)

	for _, name := range plan {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("aborted before task %q: %w", name, err)
		}

		e.state.Track(name)
		status, _ := e.state.GetStatus(name)
		switch {
		case status.State.Completed():
			logger.V(1).Info("Task already completed", "task", name, "state", status.State)
			metrics.RecordTask(name, "cached", 0)
			report.CacheHits = append(report.CacheHits, name)
			continue
		case status.State == TaskStateFailed:
			return report, &TaskExecutionError{Task: name, Err: errors.New(status.Error)}
		}

		if err := e.execute(ctx, e.graph.tasks[name], report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (e *Executor) execute(ctx context.Context, task *Task, report *Report) error {
	logger := log.FromContext(ctx).WithValues("task", task.Name)
	ctx = log.IntoContext(ctx, logger)

	if err := e.state.SetState(task.Name, TaskStateRunning); err != nil {
		return err
	}
	if task.IsAggregate() {
		logger.V(1).Info("Aggregate task complete")
	} else {
		logger.Info("Running task")
	}

	start := time.Now()
	err := runAction(ctx, task)
	duration := time.Since(start)

	if err == nil {
		metrics.RecordTask(task.Name, "succeeded", duration.Seconds())
		report.Executed = append(report.Executed, task.Name)
		return e.state.SetState(task.Name, TaskStateSucceeded)
	}

	if task.EffectivePolicy() == PolicyBestEffort {
		failure := &BestEffortFailure{Task: task.Name, Err: err}
		logger.Info("Best-effort task failed, continuing", "warning", true, "error", err.Error())
		metrics.RecordTask(task.Name, "best_effort_failed", duration.Seconds())
		report.Executed = append(report.Executed, task.Name)
		report.BestEffortFailures = append(report.BestEffortFailures, failure)
		return e.state.SetFailed(task.Name, TaskStateBestEffortFailed, err)
	}

	logger.Error(err, "Task failed")
	metrics.RecordTask(task.Name, "failed", duration.Seconds())
	report.Executed = append(report.Executed, task.Name)
	if stateErr := e.state.SetFailed(task.Name, TaskStateFailed, err); stateErr != nil {
		return stateErr
	}
	return &TaskExecutionError{Task: task.Name, Err: err}
}

// runAction calls the task action, turning a panic into an error.
func runAction(ctx context.Context, task *Task) (err error) {
	if task.Action == nil {
		return nil
	}

	var catcher panics.Catcher
	catcher.Try(func() { err = task.Action(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		return recovered.AsError()
	}
	return err
}
