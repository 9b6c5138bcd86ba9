package validation

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a malformed rule configuration. It is returned at
// construction time only; evaluation never fails.
var ErrInvalidConfig = errors.New("invalid validation config")

// ConfigError describes the rule that failed to load.
type ConfigError struct {
	Rule   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Rule, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
