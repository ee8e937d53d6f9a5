// Package pipelinetest provides fakes for exercising pipeline and release
// tasks without a Go toolchain, container runtime or cluster.
package pipelinetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/tools"
)

// ModulePath is the import path the fake `go list` reports packages under
const ModulePath = "example.com/controller"

// Tools resolves every tool to its bare name unless marked unavailable.
type Tools struct {
	mu          sync.Mutex
	unavailable map[string]error
}

// NewTools creates a resolver where every tool is available
func NewTools() *Tools {
	return &Tools{unavailable: make(map[string]error)}
}

// MakeUnavailable makes later lookups of name fail with cause
func (t *Tools) MakeUnavailable(name string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unavailable[name] = cause
}

// Path implements the pipeline tool resolver
func (t *Tools) Path(_ context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cause, ok := t.unavailable[name]; ok {
		return "", &tools.ToolUnavailableError{Name: name, Err: cause}
	}
	return name, nil
}

// Toolchain emulates `go build`, `go list` and `kustomize build` on a FakeRunner.
type Toolchain struct {
	mu sync.Mutex

	// BundleImage is the manager image written into the rendered bundle
	BundleImage string
}

// Install registers the toolchain handlers on runner
func (tc *Toolchain) Install(runner *command.FakeRunner) {
	runner.Handle("go", tc.HandleGo)
	runner.Handle("kustomize", tc.HandleKustomize)
}

// SetBundleImage changes the image kustomize renders
func (tc *Toolchain) SetBundleImage(image string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.BundleImage = image
}

// HandleGo emulates `go build` and `go list`
func (tc *Toolchain) HandleGo(c command.Cmd) error {
	if len(c.Args) == 0 {
		return nil
	}
	switch c.Args[0] {
	case "build":
		for i, arg := range c.Args {
			if arg == "-o" && i+1 < len(c.Args) {
				out := filepath.Join(c.Dir, c.Args[i+1])
				if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
					return err
				}
				return os.WriteFile(out, []byte("binary for "+c.Args[len(c.Args)-1]), 0o755)
			}
		}
	case "list":
		pkgs := []string{
			ModulePath + "/api/v1",
			ModulePath + "/internal/reconcilers",
			ModulePath + "/internal/reconcilers/v2",
			ModulePath + "/pkg/util",
		}
		if len(c.Args) > 1 && strings.HasPrefix(c.Args[1], "./internal/reconcilers") {
			pkgs = pkgs[1:3]
		}
		if c.Stdout != nil {
			_, err := fmt.Fprintln(c.Stdout, strings.Join(pkgs, "\n"))
			return err
		}
	}
	return nil
}

// HandleKustomize renders Bundle for `kustomize build`
func (tc *Toolchain) HandleKustomize(c command.Cmd) error {
	if len(c.Args) == 0 || c.Args[0] != "build" || c.Stdout == nil {
		return nil
	}
	tc.mu.Lock()
	image := tc.BundleImage
	tc.mu.Unlock()

	_, err := fmt.Fprintf(c.Stdout, Bundle, image)
	return err
}

// Bundle is the rendered manifest bundle; %s is the manager image
const Bundle = `apiVersion: v1
kind: Namespace
metadata:
  name: controller-system
---
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: controller-manager
  namespace: controller-system
spec:
  template:
    spec:
      containers:
      - name: manager
        image: %s
`
