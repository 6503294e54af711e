package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies a deployment failure. Each kind has a distinct
// blast radius and compensation behavior (see StageError).
type ErrorKind string

const (
	// KindValidation: bad domain/name/port. Caught pre-mutation; nothing
	// was staged or created.
	KindValidation ErrorKind = "validation"

	// KindInfrastructure: network/container/proxy-start failure after
	// bounded retries. Partial resources for the in-flight project are
	// torn down.
	KindInfrastructure ErrorKind = "infrastructure"

	// KindConnectivity: upstream unreachable after all probes. No route
	// was published; prior routes are unaffected.
	KindConnectivity ErrorKind = "connectivity"

	// KindConfiguration: syntax validation failure. Only the new unit was
	// retracted; prior units remain live.
	KindConfiguration ErrorKind = "configuration"

	// KindReload: validated config failed to go live. Requires manual
	// intervention; the staged/live discrepancy is logged, never ignored.
	KindReload ErrorKind = "reload"
)

// =============================================================================
// Stage Errors
// =============================================================================

// StageError is a deployment failure attributed to a pipeline stage.
// The orchestrator propagates these instead of inferring failure modes
// from exit codes.
type StageError struct {
	Stage Stage
	Kind  ErrorKind

	// Check names the specific failing check (e.g. "health probe",
	// "nginx -t").
	Check string

	Err error
}

func (e *StageError) Error() string {
	if e.Check != "" {
		return fmt.Sprintf("%s failed at stage %s (%s): %v", e.Kind, e.Stage, e.Check, e.Err)
	}
	return fmt.Sprintf("%s failed at stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewValidationError reports invalid input caught before any mutation.
func NewValidationError(check string, err error) *StageError {
	return &StageError{Stage: StageValidate, Kind: KindValidation, Check: check, Err: err}
}

// NewInfrastructureError reports a container/network/proxy failure.
func NewInfrastructureError(stage Stage, check string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindInfrastructure, Check: check, Err: err}
}

// NewConnectivityError reports an unreachable upstream.
func NewConnectivityError(check string, err error) *StageError {
	return &StageError{Stage: StageConnectivity, Kind: KindConnectivity, Check: check, Err: err}
}

// NewConfigurationError reports a route unit rejected by the validator.
func NewConfigurationError(check string, err error) *StageError {
	return &StageError{Stage: StageApply, Kind: KindConfiguration, Check: check, Err: err}
}

// NewReloadError reports a validated config that failed to go live.
func NewReloadError(check string, err error) *StageError {
	return &StageError{Stage: StageApply, Kind: KindReload, Check: check, Err: err}
}

// KindOf extracts the error kind from err, defaulting to infrastructure
// for untyped failures.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInfrastructure
}

// StageOf extracts the failing stage from err, or "" for untyped failures.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
