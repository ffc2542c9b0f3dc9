// Package errors defines the error types returned by the IP adapter.
//
// Socket level failures are reported as *NetworkError, caller mistakes as
// *ValidationError. Both unwrap so callers can match with errors.Is and
// errors.As against the sentinels declared here.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidArgument is the root of every *ValidationError.
	ErrInvalidArgument = stderrors.New("invalid argument")

	// ErrNotStarted is returned by operations that need a running adapter.
	ErrNotStarted = stderrors.New("adapter not started")

	// ErrQueueFull is returned when the outbound queue is at capacity.
	ErrQueueFull = stderrors.New("send queue full")

	// ErrQueueClosed is returned when enqueueing after the queue was closed.
	ErrQueueClosed = stderrors.New("send queue closed")

	// ErrSocketUnavailable means the slot needed for an operation is unbound.
	ErrSocketUnavailable = stderrors.New("socket unavailable")

	// ErrNoSecurity is returned for secure traffic when no security hook is set.
	ErrNoSecurity = stderrors.New("no security hook configured")

	// ErrInvalidScope is returned for IPv6 multicast scopes without an assigned group.
	ErrInvalidScope = stderrors.New("invalid multicast scope")

	// ErrFamilyDisabled means the endpoint's address family is not enabled.
	ErrFamilyDisabled = stderrors.New("address family disabled")

	// ErrSendFailed wraps transmission failures reported to the error handler.
	ErrSendFailed = stderrors.New("send failed")

	// ErrScheduleFailed is returned by Start when the runner refuses a task.
	ErrScheduleFailed = stderrors.New("task scheduling failed")
)

// NetworkError represents a failure in a socket operation.
//
// Operation names the step that failed ("bind socket", "join group", ...),
// Details carries human readable context such as the address involved.
type NetworkError struct {
	Operation string
	Err       error
	Details   string
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v (%s)", e.Operation, e.Err, e.Details)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError represents an invalid argument passed to the adapter.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s (value: %v): %s", e.Field, e.Value, e.Message)
}

// Unwrap returns ErrInvalidArgument so errors.Is works for every validation failure.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// Is reports whether err matches target. It re-exports the standard library
// helper so callers importing this package do not need both.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
