package config

import (
	"errors"
	"fmt"
)

// ErrConfig is the sentinel wrapped by every ConfigError.
var ErrConfig = errors.New("invalid configuration")

// ConfigError reports an invalid or contradictory configuration value.
// It is raised before any task executes.
type ConfigError struct {
	// Key is the override key the value was supplied under, if any
	Key string

	// Value is the rejected value
	Value string

	// Reason describes why the value was rejected
	Reason string

	// Err is the underlying parse error, if any
	Err error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Key != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Key, e.Value, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConfig, msg)
}

// Unwrap allows errors.Is(err, ErrConfig) as well as access to the parse cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}
	return []error{ErrConfig, e.Err}
}

func invalidValue(key, value, reason string, err error) error {
	return &ConfigError{Key: key, Value: value, Reason: reason, Err: err}
}
