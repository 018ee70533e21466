// Package momoerrors defines the error taxonomy shared by the scheduler,
// the store adapters, and the public API.
package momoerrors

import (
	"errors"
	"fmt"
)

// Code categorizes an application error.
type Code string

const (
	// CodeJobNotFound indicates a job definition was absent at scheduling or execution time.
	CodeJobNotFound Code = "job_not_found"
	// CodeNonParsableInterval indicates an interval string that the grammar rejects.
	CodeNonParsableInterval Code = "non_parsable_interval"
	// CodeInvalidConcurrency indicates a non-positive concurrency value.
	CodeInvalidConcurrency Code = "invalid_concurrency"
	// CodeInvalidMaxRunning indicates a negative maxRunning value, or a
	// maxRunning smaller than the job's concurrency.
	CodeInvalidMaxRunning Code = "invalid_max_running"
	// CodeJobAlreadyScheduled indicates a concurrent redefinition of the same job name.
	CodeJobAlreadyScheduled Code = "job_already_scheduled"
	// CodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	CodeConflict Code = "conflict"
	// CodeValidation indicates invalid input data.
	CodeValidation Code = "validation"
	// CodeInternal indicates an unexpected internal error.
	CodeInternal Code = "internal"
	// CodeTimeout indicates a store operation timed out.
	CodeTimeout Code = "timeout"
	// CodeCanceled indicates the operation was canceled.
	CodeCanceled Code = "canceled"
)

// AppError is a structured application error with a code, message, and
// optional cause. It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	// Code categorizes the error type
	Code Code
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// JobNotFound creates a new job-not-found error for the named job.
func JobNotFound(name string) *AppError {
	return &AppError{
		Code:    CodeJobNotFound,
		Message: fmt.Sprintf("job %q not found", name),
	}
}

// NonParsableInterval creates an error for an interval string the grammar rejects.
func NonParsableInterval(interval string, cause error) *AppError {
	return &AppError{
		Code:    CodeNonParsableInterval,
		Message: fmt.Sprintf("non-parsable interval %q", interval),
		Field:   "interval",
		Cause:   cause,
	}
}

// InvalidConcurrency creates an error for a non-positive concurrency value.
func InvalidConcurrency(concurrency int) *AppError {
	return &AppError{
		Code:    CodeInvalidConcurrency,
		Message: fmt.Sprintf("concurrency must be positive, got %d", concurrency),
		Field:   "concurrency",
	}
}

// InvalidMaxRunning creates an error for an invalid maxRunning value.
func InvalidMaxRunning(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidMaxRunning,
		Message: message,
		Field:   "maxRunning",
	}
}

// JobAlreadyScheduled creates an error for a concurrent redefinition of a job.
func JobAlreadyScheduled(name string) *AppError {
	return &AppError{
		Code:    CodeJobAlreadyScheduled,
		Message: fmt.Sprintf("job %q is already being scheduled", name),
	}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsJobNotFound checks if an error is a job-not-found error.
func IsJobNotFound(err error) bool {
	return isCode(err, CodeJobNotFound)
}

// IsNonParsableInterval checks if an error is a non-parsable-interval error.
func IsNonParsableInterval(err error) bool {
	return isCode(err, CodeNonParsableInterval)
}

// IsInvalidConcurrency checks if an error is an invalid-concurrency error.
func IsInvalidConcurrency(err error) bool {
	return isCode(err, CodeInvalidConcurrency)
}

// IsInvalidMaxRunning checks if an error is an invalid-maxRunning error.
func IsInvalidMaxRunning(err error) bool {
	return isCode(err, CodeInvalidMaxRunning)
}

// IsJobAlreadyScheduled checks if an error is a job-already-scheduled error.
func IsJobAlreadyScheduled(err error) bool {
	return isCode(err, CodeJobAlreadyScheduled)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, CodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, CodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, CodeInternal)
}

// GetCode returns the Code from an error, or empty string if not an AppError.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
