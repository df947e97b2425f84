// Package apperr defines the structured error kinds surfaced by the engine.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and fallback decisions.
type Kind string

const (
	KindNetwork      Kind = "NETWORK_ERROR"
	KindTimeout      Kind = "TIMEOUT_ERROR"
	KindSystem       Kind = "SYSTEM_ERROR"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindBusinessRule Kind = "BUSINESS_RULE_ERROR"
)

// Error carries a kind, a human-readable message and structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches a detail and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func Network(message string, err error) *Error {
	return Wrap(KindNetwork, message, err)
}

// Offline is returned when no connectivity and no fallback could serve a read.
func Offline() *Error {
	return New(KindNetwork, "No internet connection and no cached data available").
		WithDetail("offlineMode", true)
}

func Timeout(timeout time.Duration) *Error {
	return New(KindTimeout, fmt.Sprintf("operation timed out after %s", timeout)).
		WithDetail("timeout", timeout)
}

func System(message string, err error) *Error {
	return Wrap(KindSystem, message, err)
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func BusinessRule(message string) *Error {
	return New(KindBusinessRule, message)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Has reports whether any *Error in err's chain has the given kind, so a
// SYSTEM_ERROR from exhausted retries still reveals its network cause.
func Has(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsTransient reports failures worth retrying. Errors without a kind are
// treated as transient since remote calls fail in unclassified ways.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindNetwork, KindTimeout, "":
		return true
	}
	return false
}
