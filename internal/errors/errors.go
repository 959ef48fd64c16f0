package errors

import (
	"errors"
	"fmt"
)

// AmanError is the structured error type for amanwatch.
// It provides rich context for error handling, logging, and user presentation.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_401_ALREADY_WATCHING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code, so any AmanError
// carrying the same code matches regardless of message or cause.
var (
	ErrAlreadyWatching = &AmanError{Code: ErrCodeAlreadyWatching}
	ErrNotWatching     = &AmanError{Code: ErrCodeNotWatching}
	ErrCannotOpen      = &AmanError{Code: ErrCodeCannotOpen}
	ErrCannotArm       = &AmanError{Code: ErrCodeCannotArm}
	ErrServerClosed    = &AmanError{Code: ErrCodeServerClosed}
)

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AmanError.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
// The error's message becomes the AmanError message.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// AlreadyWatching reports a start request for a path that is already registered.
func AlreadyWatching(path string) *AmanError {
	return New(ErrCodeAlreadyWatching, "already watching path", nil).
		WithDetail("path", path)
}

// NotWatching reports a stop request for a path that was never registered.
func NotWatching(path string) *AmanError {
	return New(ErrCodeNotWatching, "cannot stop watching path that was never watched", nil).
		WithDetail("path", path)
}

// CannotOpen reports a failure to open the directory handle for a watch.
func CannotOpen(path string, cause error) *AmanError {
	return New(ErrCodeCannotOpen, fmt.Sprintf("couldn't open directory %s: %v", path, cause), cause).
		WithDetail("path", path).
		WithSuggestion("Check that the directory exists and is readable")
}

// CannotArm reports a failure to issue the first asynchronous change read.
func CannotArm(path string, cause error) *AmanError {
	return New(ErrCodeCannotArm, fmt.Sprintf("couldn't start listening on %s: %v", path, cause), cause).
		WithDetail("path", path)
}

// ServerClosed reports a request made after the watch server shut down.
func ServerClosed() *AmanError {
	return New(ErrCodeServerClosed, "watch server is shut down", nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// DaemonError creates a daemon transport error.
// Transport errors are retryable.
func DaemonError(message string, cause error) *AmanError {
	return New(ErrCodeDaemonUnavailable, message, cause).
		WithSuggestion("Start the daemon with 'amanwatch daemon start'")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains an AmanError with Retryable set.
func IsRetryable(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an AmanError.
// Returns empty string if not an AmanError.
func GetCode(err error) string {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AmanError.
// Returns empty string if not an AmanError.
func GetCategory(err error) Category {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// asAmanError returns err as an AmanError, wrapping foreign errors as internal.
func asAmanError(err error) *AmanError {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(ErrCodeInternal, err)
}
