// Package apperr defines the error taxonomy shared by the metering components.
// Every rejection carries a machine-readable Kind and a human-readable message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of an error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindInvalidPlan        Kind = "invalid_plan"
	KindValidation         Kind = "validation_error"
	KindStorageUnavailable Kind = "storage_unavailable"

	// Enforcement-specific refinements of not_found.
	KindUserNotFound   Kind = "user_not_found"
	KindNoPlanAssigned Kind = "no_plan_assigned"
	KindPlanNotFound   Kind = "plan_not_found"
)

// Error is a classified error. Details holds structured context for the caller
// (for example the offending metric and limit of a quota rejection).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
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

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it reachable through errors.Unwrap.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NotFound reports a missing entity.
func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

// AlreadyExists reports a duplicate entity.
func AlreadyExists(msg string) *Error {
	return New(KindAlreadyExists, msg)
}

// Validation reports malformed input. It is always raised before any store mutation.
func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

// Unavailable reports that a backing store could not be reached or timed out.
func Unavailable(op string, err error) *Error {
	return Wrap(KindStorageUnavailable, op, err)
}

// QuotaExceeded reports a pre-check failure on the given metric.
func QuotaExceeded(metric string, current, limit int64) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("%s limit exceeded: %d/%d", metric, current, limit),
		Details: map[string]any{
			"metric":  metric,
			"current": current,
			"limit":   limit,
		},
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
