package command

import (
	"context"
	"fmt"
	"sync"
)

// FakeRunner records commands instead of executing them.
// Handlers keyed by program name can fail a command or write output.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []Cmd
	handlers map[string]func(Cmd) error
}

// NewFakeRunner creates a recording runner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]func(Cmd) error)}
}

// Handle installs a handler for commands whose Name equals name.
func (f *FakeRunner) Handle(name string, h func(Cmd) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Fail makes every command with the given name fail with err.
func (f *FakeRunner) Fail(name string, err error) {
	f.Handle(name, func(Cmd) error { return err })
}

// Run records the command and dispatches to a handler if one is installed.
func (f *FakeRunner) Run(ctx context.Context, c Cmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	h := f.handlers[c.Name]
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h(c); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

// Calls returns a copy of the recorded commands in order.
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// Lines returns the recorded command lines in order.
func (f *FakeRunner) Lines() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}
