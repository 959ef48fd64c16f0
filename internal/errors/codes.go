// Package errors provides structured error handling for amanwatch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (opening or arming a directory watch)
//   - 3XX: Daemon transport errors
//   - 4XX: Validation errors (watch registry preconditions)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file system I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates daemon transport errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates a violated precondition.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeCannotOpen     = "ERR_201_CANNOT_OPEN"
	ErrCodeCannotArm      = "ERR_202_CANNOT_ARM"
	ErrCodeFilePermission = "ERR_203_FILE_PERMISSION"

	// Network errors (300-399)
	ErrCodeDaemonUnavailable = "ERR_301_DAEMON_UNAVAILABLE"
	ErrCodeDaemonTimeout     = "ERR_302_DAEMON_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeAlreadyWatching = "ERR_401_ALREADY_WATCHING"
	ErrCodeNotWatching     = "ERR_402_NOT_WATCHING"
	ErrCodeInvalidPath     = "ERR_403_INVALID_PATH"
	ErrCodeInvalidInput    = "ERR_404_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeServerClosed = "ERR_502_SERVER_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_CANNOT_OPEN"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeServerClosed:
		return SeverityFatal
	case ErrCodeAlreadyWatching, ErrCodeNotWatching:
		// The registry is left untouched, the caller can carry on.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDaemonUnavailable, ErrCodeDaemonTimeout:
		return true
	default:
		return false
	}
}
