// Package apperr defines the service error taxonomy. Handlers map each
// kind onto an HTTP status; services construct kinds instead of raw
// errors so failures stay classifiable across layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for surfacing.
type Kind int

const (
	// KindUnknown is the zero kind: an unclassified internal failure.
	KindUnknown Kind = iota

	// KindValidation: the caller supplied an invalid or missing value.
	KindValidation

	// KindConfiguration: a prerequisite object is missing; the caller
	// must run a prior setup step first.
	KindConfiguration

	// KindUpstream: the billing vendor call failed or returned an
	// unexpected shape.
	KindUpstream

	// KindStateIO: the local state store could not be read or written.
	KindStateIO
)

// String returns the kind's wire code.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindConfiguration:
		return "configuration_error"
	case KindUpstream:
		return "upstream_error"
	case KindStateIO:
		return "state_io_error"
	default:
		return "internal_error"
	}
}

// Error is a classified service error.
type Error struct {
	Kind    Kind
	Message string

	// Allowed lists permitted values for validation errors.
	Allowed []string

	// Hint tells the caller which prior step to run for
	// configuration errors.
	Hint string

	// Err is the wrapped cause, when any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a caller-input error, optionally listing the
// allowed values.
func Validation(message string, allowed ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Allowed: allowed}
}

// Configuration creates a missing-prerequisite error with guidance on
// which setup step to run.
func Configuration(message, hint string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Hint: hint}
}

// Upstream wraps a failed or malformed vendor response.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// StateIO wraps a local state read/write failure.
func StateIO(message string, err error) *Error {
	return &Error{Kind: KindStateIO, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// From returns the *Error in the chain, or wraps err as KindUnknown.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Message: "internal error", Err: err}
}
