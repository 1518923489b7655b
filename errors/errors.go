// Package errors provides standardized error handling for machine-health
// components. Errors are classified into three kinds that map directly
// onto event-stream semantics: transient errors may be retried (the event
// is redelivered), invalid errors mark malformed input (the event is
// consumed and discarded), and fatal errors abort startup or processing.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class is the handling classification of an error.
type Class int

const (
	// ClassTransient marks temporary failures worth retrying.
	ClassTransient Class = iota
	// ClassInvalid marks malformed or ambiguous input; never retryable.
	ClassInvalid
	// ClassFatal marks unrecoverable conditions that should stop processing.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and transport errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Event validation errors (schema normalizer)
	ErrMissingDeviceID = errors.New("event has no device identity")
	ErrAmbiguousShape  = errors.New("event shape is ambiguous")
	ErrEmptyAxis       = errors.New("all axis arrays are empty")
	ErrNonFinite       = errors.New("non-finite numeric value")
	ErrInvalidRate     = errors.New("sampling rate must be positive")

	// Signal processing errors
	ErrEmptySignal = errors.New("empty signal")

	// Sink errors
	ErrSinkUnavailable = errors.New("sink unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Is reports whether any error in err's chain matches target. It is a
// passthrough to the standard library so callers need only one errors
// import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ClassifiedError wraps an error with its classification and the
// component/operation context where it occurred.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ClassTransient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ClassInvalid, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ClassFatal, err, component, method, action)
}

// IsTransient reports whether an error is transient and should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrSinkUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Fall back to common transient patterns from transport libraries
	// whose errors we cannot match by identity.
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid reports whether an error marks malformed input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}

	return errors.Is(err, ErrMissingDeviceID) ||
		errors.Is(err, ErrAmbiguousShape) ||
		errors.Is(err, ErrEmptyAxis) ||
		errors.Is(err, ErrNonFinite) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrEmptySignal)
}

// IsFatal reports whether an error is fatal and should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error. Invalid is checked
// before the transient fallback so that typed validation errors are
// never mistaken for retryable conditions.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if IsInvalid(err) {
		return ClassInvalid
	}
	if IsFatal(err) {
		return ClassFatal
	}
	return ClassTransient
}
