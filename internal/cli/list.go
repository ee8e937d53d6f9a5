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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/slipway/pkg/config"
)

// newListCommand creates the "list" subcommand printing every task in
// dependency order.
func newListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list [key=value...]",
		Short: "List tasks in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, overrides, err := config.ParseArgs(args)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), overrides)
			if err != nil {
				return err
			}

			order, err := s.graph.TopologicalOrder()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TASK\tPOLICY\tDEPENDS ON\tTOOLS\tDESCRIPTION")
			for _, name := range order {
				t, _ := s.graph.Get(name)
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.Name, t.EffectivePolicy(), joinOrDash(t.DependsOn), joinOrDash(t.Tools), t.Description)
			}
			return w.Flush()
		},
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
