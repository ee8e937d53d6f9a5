package graph

import (
	"fmt"
	"io"
	"slices"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// TaskGraph holds registered tasks. Registration rejects any task that would
// close a cycle, so the graph is acyclic at all times. Dependencies may name
// tasks that are registered later; Validate rejects names that never appear.
type TaskGraph struct {
	tasks map[string]*Task

	// order holds task names in registration order
	order []string
}

// New creates an empty task graph
func New() *TaskGraph {
	return &TaskGraph{tasks: make(map[string]*Task)}
}

// Register adds a task. It fails with ErrInvalidTask for a malformed or
// duplicate task and with a *CycleError if the task closes a cycle.
func (g *TaskGraph) Register(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if _, exists := g.tasks[task.Name]; exists {
		return fmt.Errorf("%w: task %q is already registered", ErrInvalidTask, task.Name)
	}

	candidate := task.clone()
	if path := g.findCycle(candidate); path != nil {
		return &CycleError{Path: path}
	}

	g.tasks[candidate.Name] = candidate
	g.order = append(g.order, candidate.Name)
	return nil
}

// MustRegister is Register for static task tables; it panics on error.
func (g *TaskGraph) MustRegister(tasks ...Task) {
	for _, t := range tasks {
		if err := g.Register(t); err != nil {
			panic(err)
		}
	}
}

// findCycle walks depth-first from the candidate, keeping the current path on
// a stack. Reaching a task already on the stack means a cycle. The existing
// graph is acyclic, so any cycle found passes through the candidate.
func (g *TaskGraph) findCycle(candidate *Task) []string {
	const (
		unvisited = iota
		onStack
		done
	)

	deps := func(name string) []string {
		if name == candidate.Name {
			return candidate.DependsOn
		}
		if t, ok := g.tasks[name]; ok {
			return t.DependsOn
		}
		return nil
	}

	marks := make(map[string]int)
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		marks[name] = onStack
		stack = append(stack, name)
		for _, dep := range deps(name) {
			switch marks[dep] {
			case onStack:
				i := slices.Index(stack, dep)
				return append(slices.Clone(stack[i:]), dep)
			case unvisited:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[name] = done
		return nil
	}

	return visit(candidate.Name)
}

// Validate checks that every dependency names a registered task.
func (g *TaskGraph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.tasks[name].DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return fmt.Errorf("%w: %q (dependency of %q)", ErrUnknownTask, dep, name)
			}
		}
	}
	return nil
}

// Has reports whether a task is registered
func (g *TaskGraph) Has(name string) bool {
	_, ok := g.tasks[name]
	return ok
}

// Get returns a copy of a registered task
func (g *TaskGraph) Get(name string) (Task, bool) {
	t, ok := g.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t.clone(), true
}

// Size returns the number of registered tasks
func (g *TaskGraph) Size() int {
	return len(g.tasks)
}

// Names returns task names in registration order
func (g *TaskGraph) Names() []string {
	return slices.Clone(g.order)
}

// Plan returns the transitive closure of the requested tasks in execution
// order: depth-first post-order from each requested task, visiting
// dependencies in declared order. Every task appears once.
func (g *TaskGraph) Plan(names ...string) ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	for _, name := range names {
		if !g.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
	}

	visited := make(map[string]bool)
	var plan []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.tasks[name].DependsOn {
			visit(dep)
		}
		plan = append(plan, name)
	}

	for _, name := range names {
		visit(name)
	}
	return plan, nil
}

// DependsOn reports whether task transitively depends on dep.
func (g *TaskGraph) DependsOn(task, dep string) bool {
	seen := make(map[string]bool)
	stack := []string{task}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := g.tasks[name]
		if !ok {
			continue
		}
		for _, d := range t.DependsOn {
			if d == dep {
				return true
			}
			if !seen[d] {
				seen[d] = true
				stack = append(stack, d)
			}
		}
	}
	return false
}

// TopologicalOrder returns every task, dependencies before dependents, with
// ties broken by registration order.
func (g *TaskGraph) TopologicalOrder() ([]string, error) {
	m, err := g.mirror(g.order)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(g.order))
	for i, name := range g.order {
		index[name] = i
	}

	order, err := graph.StableTopologicalSort(m, func(a, b string) bool {
		return index[a] < index[b]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological sort: %w", err)
	}
	return order, nil
}

// WriteDOT renders the graph in Graphviz DOT format. With roots given, only
// their closure is drawn.
func (g *TaskGraph) WriteDOT(w io.Writer, roots ...string) error {
	names := g.order
	if len(roots) > 0 {
		plan, err := g.Plan(roots...)
		if err != nil {
			return err
		}
		names = plan
	}

	m, err := g.mirror(names)
	if err != nil {
		return err
	}
	return draw.DOT(m, w)
}

// mirror builds a dominikbraun/graph copy of the named tasks with edges
// pointing from dependency to dependent.
func (g *TaskGraph) mirror(names []string) (graph.Graph[string, string], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	m := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, name := range names {
		t := g.tasks[name]
		var attrs []func(*graph.VertexProperties)
		if t.IsAggregate() {
			attrs = append(attrs, graph.VertexAttribute("shape", "box"))
		}
		if t.EffectivePolicy() == PolicyBestEffort {
			attrs = append(attrs, graph.VertexAttribute("style", "dashed"))
		}
		if err := m.AddVertex(name, attrs...); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", name, err)
		}
	}

	for _, name := range names {
		for _, dep := range g.tasks[name].DependsOn {
			if err := m.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", dep, name, err)
			}
		}
	}
	return m, nil
}
