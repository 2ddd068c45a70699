// Package storage holds the string-map configuration helpers shared by
// transport drivers, URL cache backends and quota backends.
package storage

import "fmt"

// ConfigError reports an invalid or missing setting for a named component
// such as a transport driver ("telegram") or cache backend ("redis").
type ConfigError struct {
	Component string
	Field     string
	Value     string
	Message   string
	Cause     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("%s: %s", e.Component, e.Message)
	case e.Value == "":
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Field, e.Message)
	default:
		return fmt.Sprintf("%s: %s=%q: %s", e.Component, e.Field, e.Value, e.Message)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a ConfigError for a field validation failure.
func NewConfigError(component, field, message string) *ConfigError {
	return &ConfigError{Component: component, Field: field, Message: message}
}

// NewConfigErrorWithValue creates a ConfigError that includes the rejected value.
// Secret fields must not be passed here.
func NewConfigErrorWithValue(component, field, value, message string) *ConfigError {
	return &ConfigError{Component: component, Field: field, Value: value, Message: message}
}

// NewConfigErrorWithCause creates a ConfigError wrapping an underlying cause.
func NewConfigErrorWithCause(component, field, message string, cause error) *ConfigError {
	return &ConfigError{Component: component, Field: field, Message: message, Cause: cause}
}
