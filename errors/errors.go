// Package errors provides error handling for beamline.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details attached to errors
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrValidation) {
//	    // reject before touching any session or process
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors for the execution core.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrConfiguration indicates a required feature or setting is absent.
	// Raised before any session or process is touched.
	ErrConfiguration = New("configuration error")

	// ErrValidation indicates an unsafe or malformed parameter.
	// Raised before execution, with the offending field in the message.
	ErrValidation = New("validation error")

	// ErrConnection indicates the remote session is unreachable or timed out.
	// Triggers backoff reconnect for the shared session; terminal for an
	// ephemeral one.
	ErrConnection = New("connection error")

	// ErrSubmission indicates the external submit call failed, or succeeded
	// but its output could not be parsed for a scheduler job id.
	ErrSubmission = New("submission error")

	// ErrExecution indicates a local process failed to start or exited
	// non-zero.
	ErrExecution = New("execution error")

	// ErrPrecondition indicates an archive/restore/relocate precondition
	// failed; nothing was moved or rewritten.
	ErrPrecondition = New("precondition failed")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrUnauthorized indicates the caller may not perform the operation
	ErrUnauthorized = New("unauthorized")
)

// IsConfigurationError checks if an error is or wraps ErrConfiguration
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsConnectionError checks if an error is or wraps ErrConnection
func IsConnectionError(err error) bool {
	return err != nil && Is(err, ErrConnection)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsPreconditionError checks if an error is or wraps ErrPrecondition
func IsPreconditionError(err error) bool {
	return err != nil && Is(err, ErrPrecondition)
}

// IsUnauthorizedError checks if an error is or wraps ErrUnauthorized
func IsUnauthorizedError(err error) bool {
	return err != nil && Is(err, ErrUnauthorized)
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewConfigurationError creates a configuration error with a formatted message
func NewConfigurationError(format string, args ...interface{}) error {
	return Wrap(ErrConfiguration, Newf(format, args...).Error())
}

// NewPreconditionError creates a precondition error with a formatted message
func NewPreconditionError(format string, args ...interface{}) error {
	return Wrap(ErrPrecondition, Newf(format, args...).Error())
}
