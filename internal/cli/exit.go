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

	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
)

// Exit codes
const (
	ExitOK = 0
	// ExitFailed reports a fatal task failure
	ExitFailed = 1
	// ExitInvalid reports a configuration or graph problem found before any task ran
	ExitInvalid = 2
)

// ExitCode maps an Execute error to the process exit status. Best-effort
// failures never reach here as errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, graph.ErrTaskFailed):
		return ExitFailed
	case errors.Is(err, config.ErrConfig),
		errors.Is(err, graph.ErrCycle),
		errors.Is(err, graph.ErrUnknownTask),
		errors.Is(err, graph.ErrInvalidTask):
		return ExitInvalid
	default:
		return ExitFailed
	}
}
