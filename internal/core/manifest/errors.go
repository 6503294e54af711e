// Package manifest contains pure functions for parsing project manifests.
// A manifest is a compose-style file describing the single service a
// project runs; parsing is pure with no I/O beyond the caller's read.
package manifest

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrEmptyInput is returned for an empty manifest.
	ErrEmptyInput = errors.New("manifest is empty")

	// ErrInvalidYAML is returned for unparseable YAML.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrNoServices is returned when the manifest defines no service.
	ErrNoServices = errors.New("manifest must define exactly one service")

	// ErrMultipleServices is returned when more than one service is defined.
	// A project is one container; multi-service stacks are out of scope.
	ErrMultipleServices = errors.New("manifest must define exactly one service")

	// ErrServiceNoImage is returned when the service has neither image nor build.
	ErrServiceNoImage = errors.New("service must have image or build")

	// ErrUnsupportedFeature is returned for compose features berth does not run.
	ErrUnsupportedFeature = errors.New("unsupported manifest feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
