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

	"github.com/chazu/slipway/pkg/config"
)

// newGraphCommand creates the "graph" subcommand rendering the task graph as DOT.
func newGraphCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "graph [task...] [key=value...]",
		Short: "Render the task graph in Graphviz DOT format",
		Long:  "Render the task graph in Graphviz DOT format. With task names, only their dependency closure is drawn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, overrides, err := config.ParseArgs(args)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), overrides)
			if err != nil {
				return err
			}
			return s.graph.WriteDOT(cmd.OutOrStdout(), roots...)
		},
	}
}
