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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/slipway/pkg/config"
)

func newToolsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage pinned generator tools",
	}
	cmd.AddCommand(newToolsInstallCommand(opts))
	return cmd
}

// newToolsInstallCommand resolves every pinned tool concurrently, installing
// the missing ones into the tools directory.
func newToolsInstallCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "install [tool...] [key=value...]",
		Short: "Install pinned tools that are not on PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, overrides, err := config.ParseArgs(args)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), overrides)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				names = s.locator.Names()
			}

			prefetchErr := s.locator.Prefetch(cmd.Context(), names...)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TOOL\tSTATE\tVERSION\tPATH")
			for _, name := range names {
				ref := s.locator.Lookup(name)
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ref.Name, ref.State, ref.Version, ref.Path)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return prefetchErr
		},
	}
}
