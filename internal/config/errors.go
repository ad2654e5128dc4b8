package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every configuration error, including the
// network resolution errors. Configuration errors are never retried.
var ErrConfiguration = errors.New("configuration error")

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Source  string // file the value came from, if known
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrConfiguration
}
