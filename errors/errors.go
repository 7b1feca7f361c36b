// Package errors provides error handling for upilookup.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for CLI and API output
//
// Usage:
//
//	// Wrap with context
//	if err := store.Record(item, outcome); err != nil {
//	    return errors.Wrap(err, "failed to record outcome")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrInvalidTransition) {
//	    // control call rejected, run state unchanged
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors. Use with errors.Is(); wrap to add context.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrValidation marks an input line rejected by the normalizer
	ErrValidation = New("validation error")

	// ErrTransient marks a retryable network or server fault
	ErrTransient = New("transient error")

	// ErrFatal marks an unretryable response or protocol fault
	ErrFatal = New("fatal error")

	// ErrInvalidTransition marks a control call made in the wrong run state
	ErrInvalidTransition = New("invalid state transition")

	// ErrDuplicateOutcome marks a second terminal outcome for the same phone number
	ErrDuplicateOutcome = New("duplicate outcome")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsControlError checks if an error is a rejected control call
func IsControlError(err error) bool {
	return err != nil && Is(err, ErrInvalidTransition)
}

// IsTransient checks if an error is or wraps ErrTransient
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
