/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/pipeline"
	"github.com/chazu/slipway/pkg/release"
	"github.com/chazu/slipway/pkg/tools"
)

// session is everything one invocation builds from the options and overrides
type session struct {
	workdir  string
	snap     *config.Snapshot
	locator  *tools.Locator
	graph    *graph.TaskGraph
	executor *graph.Executor
}

// resolveSnapshot applies the precedence: CLI overrides, then process
// environment, then .env files, then project and schema defaults.
func (o *Options) resolveSnapshot(cli config.Overrides) (*config.Snapshot, error) {
	environ := o.environ
	if environ == nil {
		var err error
		environ, err = config.ReadEnvFiles(o.EnvFiles...)
		if err != nil {
			return nil, &config.ConfigError{Reason: "cannot load env files", Err: err}
		}
	}
	fromEnv, err := config.FromEnvironment(environ)
	if err != nil {
		return nil, err
	}

	project, err := config.LoadProject(o.projectPath())
	if err != nil {
		return nil, err
	}
	resolver, err := config.NewResolver(project)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(config.Merge(fromEnv, cli))
}

// projectPath resolves a relative project file against the workdir
func (o *Options) projectPath() string {
	if o.ProjectPath == "" || filepath.IsAbs(o.ProjectPath) {
		return o.ProjectPath
	}
	return filepath.Join(o.Workdir, o.ProjectPath)
}

func (o *Options) newSession(ctx context.Context, overrides config.Overrides) (*session, error) {
	snap, err := o.resolveSnapshot(overrides)
	if err != nil {
		return nil, err
	}

	workdir, err := filepath.Abs(o.Workdir)
	if err != nil {
		return nil, fmt.Errorf("invalid workdir %q: %w", o.Workdir, err)
	}
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return nil, &config.ConfigError{Key: "workdir", Value: o.Workdir, Reason: "not a directory", Err: err}
	}

	runner := o.runner
	if runner == nil {
		runner = command.NewExecRunner()
	}
	clients := o.clients
	if clients == nil {
		clients = release.KubeconfigClientFactory(snap.KubeContext())
	}

	toolsDir := snap.ToolsDir()
	if !filepath.IsAbs(toolsDir) {
		toolsDir = filepath.Join(workdir, toolsDir)
	}
	pins := make(map[string]tools.Pin)
	for name, pin := range snap.Project().Tools {
		pins[name] = tools.Pin{Module: pin.Module, Version: pin.Version}
	}
	var locatorOpts []tools.Option
	if o.lookPath != nil {
		locatorOpts = append(locatorOpts, tools.WithLookPath(o.lookPath))
	}
	locator := tools.NewLocator(toolsDir, pins, tools.NewGoInstaller(runner), locatorOpts...)

	g := graph.New()
	p := pipeline.New(snap, locator, runner, workdir)
	if err := p.Register(g); err != nil {
		return nil, err
	}
	if err := release.New(snap, p, locator, runner, clients).Register(g); err != nil {
		return nil, err
	}
	if err := errors.Join(g.Validate(), p.Artifacts().Validate(g)); err != nil {
		return nil, err
	}

	log.FromContext(ctx).V(1).Info("Session ready",
		"environment", snap.Environment(), "image", snap.Image(), "version", snap.Version(),
		"fingerprint", snap.Fingerprint(), "tasks", g.Size())

	return &session{
		workdir:  workdir,
		snap:     snap,
		locator:  locator,
		graph:    g,
		executor: graph.NewExecutor(g),
	}, nil
}
