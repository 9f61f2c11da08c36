package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a resource already exists.
	ErrConflict = errors.New("resource already exists")

	// ErrInvalidInput is returned when request input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceUnavailable is returned when a required service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternal is returned when an internal error occurs.
	ErrInternal = errors.New("internal error")

	// ErrDisabled is returned when channel-backed delivery is switched off.
	ErrDisabled = errors.New("delivery disabled")

	// ErrRateLimited is returned when a client sends requests too quickly.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Error is the base interface for all custom errors in the system.
// It extends the standard error interface with additional context.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// ValidationError represents an input validation error.
type ValidationError struct {
	*BaseError
	Field string
	Value interface{}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		BaseError: &BaseError{
			code:    CodeValidation,
			message: message,
			stack:   captureStack(1),
		},
		Field: field,
		Value: value,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s not found", resource),
			stack:   captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConflictError represents a resource conflict error.
type ConflictError struct {
	*BaseError
	Resource string
	Field    string
	Value    string
}

// NewConflictError creates a new conflict error.
func NewConflictError(resource, field, value string) *ConflictError {
	message := fmt.Sprintf("%s already exists", resource)
	if field != "" {
		message = fmt.Sprintf("%s with %s='%s' already exists", resource, field, value)
	}
	return &ConflictError{
		BaseError: &BaseError{
			code:    CodeConflict,
			message: message,
			stack:   captureStack(1),
		},
		Resource: resource,
		Field:    field,
		Value:    value,
	}
}

// InternalError represents an internal server error.
type InternalError struct {
	*BaseError
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
	}
}

// ServiceError represents a downstream service error.
type ServiceError struct {
	*BaseError
	Service string
}

// NewServiceError creates a new service error.
func NewServiceError(service, message string, cause error) *ServiceError {
	if message == "" {
		message = fmt.Sprintf("%s service error", service)
	}
	return &ServiceError{
		BaseError: &BaseError{
			code:    CodeServiceUnavailable,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
		Service: service,
	}
}

// Channel operations reported by ChannelError.
const (
	OpConstruct = "construct"
	OpClose     = "close"
	OpDeliver   = "deliver"
)

// ChannelError reports a lifecycle failure of one delivery channel.
type ChannelError struct {
	*BaseError
	Channel string
	Op      string
}

// NewChannelError creates a channel error for the given operation. The code
// is derived from op.
func NewChannelError(channel, op string, cause error) *ChannelError {
	code := CodeInternal
	switch op {
	case OpConstruct:
		code = CodeChannelConstruction
	case OpClose:
		code = CodeChannelClose
	case OpDeliver:
		code = CodeHandlerFailed
	}
	return &ChannelError{
		BaseError: &BaseError{
			code:    code,
			message: fmt.Sprintf("channel %s failed", op),
			cause:   cause,
			stack:   captureStack(1),
		},
		Channel: channel,
		Op:      op,
	}
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("channel %q: %s failed: %v", e.Channel, e.Op, e.cause)
	}
	return fmt.Sprintf("channel %q: %s failed", e.Channel, e.Op)
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the code
// and adds the cause chain. Otherwise, it creates an InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(Error); ok {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   err,
			stack:   captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
