// Package shared contains common domain types and errors used across all domain
// packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Protocol errors: an inbound event is missing something the protocol requires.
	ErrProtocol = errors.New("protocol violation")

	// Lifecycle errors: a component was used out of order. Always a defect.
	ErrLifecycle = errors.New("lifecycle violation")

	// Configuration errors: data the system needs to route an event is missing.
	ErrConfiguration = errors.New("missing configuration")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "router", "rule", "factory"
	Op      string // Operation that failed, e.g., "Process", "Evaluate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e == target {
		return true
	}
	if t, ok := target.(*DomainError); ok && e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Detail returns a copy of a sentinel DomainError with a more specific message.
// errors.Is(detail, sentinel) still holds.
func (e *DomainError) Detail(format string, args ...any) *DomainError {
	return &DomainError{
		Domain:  e.Domain,
		Op:      e.Op,
		Kind:    e,
		Message: fmt.Sprintf(format, args...),
		Err:     e.Err,
	}
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsProtocol checks if the error was caused by a malformed inbound event.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsLifecycle checks if the error is a lifecycle defect.
func IsLifecycle(err error) bool {
	return errors.Is(err, ErrLifecycle)
}

// IsConfiguration checks if the error is a missing-configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
