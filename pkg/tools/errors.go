package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is matched by every ToolUnavailableError.
var ErrToolUnavailable = errors.New("tool unavailable")

// ToolUnavailableError reports a tool that could be neither found nor installed.
type ToolUnavailableError struct {
	Name string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tool %q unavailable", e.Name)
	}
	return fmt.Sprintf("tool %q unavailable: %v", e.Name, e.Err)
}

func (e *ToolUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolUnavailable}
	}
	return []error{ErrToolUnavailable, e.Err}
}
