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

// Package cli defines the slipway command-line interface.
package cli

import (
	"context"
	"flag"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/release"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ProjectPath string
	EnvFiles    []string
	MetricsFile string
	Workdir     string
	Zap         zap.Options

	// test seams; nil means the real implementation
	runner   command.Runner
	clients  release.ClientFactory
	lookPath func(string) (string, error)
	environ  map[string]string
}

// Execute builds the root command and runs it with args.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newRootCommand(&Options{})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slipway",
		Short: "slipway builds, packages and releases a Kubernetes controller",
		Long: "slipway runs named tasks from a dependency graph: code generation, checks, tests, " +
			"binaries, manifests, images and the kubectl plugin, then installs them into a cluster.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.Zap)))
			logger := ctrl.Log.WithName("slipway")
			cmd.SetContext(log.IntoContext(cmd.Context(), logger))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ProjectPath, "project", config.DefaultProjectFile, "Path to the CUE project file")
	flags.StringArrayVar(&opts.EnvFiles, "env-file", nil, "Read SLIPWAY_* variables from a .env file (repeatable)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write task metrics in the Prometheus text format to this file on exit")
	flags.StringVar(&opts.Workdir, "workdir", ".", "Project working directory")
	bindZapFlags(flags, &opts.Zap)

	cmd.AddCommand(
		newRunCommand(opts),
		newListCommand(opts),
		newGraphCommand(opts),
		newToolsCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

// bindZapFlags exposes the controller-runtime zap flags (--zap-log-level, ...)
func bindZapFlags(fs *pflag.FlagSet, o *zap.Options) {
	o.Development = true
	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	o.BindFlags(goFlags)
	fs.AddGoFlagSet(goFlags)
}
