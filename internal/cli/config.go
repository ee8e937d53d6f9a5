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
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/chazu/slipway/pkg/config"
)

// newConfigCommand creates the "config" subcommand printing the resolved settings.
func newConfigCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config [key=value...]",
		Short: "Print the resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, overrides, err := config.ParseArgs(args)
			if err != nil {
				return err
			}
			if len(tasks) > 0 {
				return &config.ConfigError{Value: tasks[0], Reason: "expected key=value"}
			}

			snap, err := opts.resolveSnapshot(overrides)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(snap.Settings())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
