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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/metrics"
)

// newRunCommand creates the "run" subcommand. Arguments containing '=' are
// configuration overrides; the rest are task names.
func newRunCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>... [key=value...]",
		Short: "Run tasks and everything they depend on",
		Example: "  slipway run deploy environment=local-cluster version=v1.2.3\n" +
			"  slipway run test reconciliationMode=new",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			logger := log.FromContext(ctx)

			tasks, overrides, err := config.ParseArgs(args)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return errors.New("no task given; see 'slipway list'")
			}

			s, err := opts.newSession(ctx, overrides)
			if err != nil {
				return err
			}
			if opts.MetricsFile != "" {
				defer func() {
					if werr := metrics.WriteTextfile(opts.MetricsFile); werr != nil {
						err = errors.Join(err, werr)
					}
				}()
			}

			report, err := s.executor.Run(ctx, tasks...)
			state := s.executor.State()
			if report != nil {
				for _, w := range report.BestEffortFailures {
					logger.Info("Completed with warning", "warning", true, "task", w.Task, "error", w.Err.Error())
				}
				summary := state.GetSummary()
				logger.Info("Run finished",
					"requested", report.Requested,
					"executed", len(report.Executed),
					"cached", len(report.CacheHits),
					"warnings", len(report.BestEffortFailures),
					"succeeded", summary.Succeeded,
					"failed", summary.Failed,
					"duration", report.Duration.String())
			}
			if err != nil {
				if failed := state.GetTasksInState(graph.TaskStateFailed); len(failed) > 0 {
					return fmt.Errorf("run %v: failed tasks %v: %w", tasks, failed, err)
				}
				return fmt.Errorf("run %v: %w", tasks, err)
			}
			return nil
		},
	}
}
