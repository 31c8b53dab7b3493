package errors

import (
	"fmt"
)

// IndexError is the structured error type for Schemadex. It carries the
// context needed for error accumulation in progress records, retry
// decisions, and user presentation.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_203_FILE_MISSING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// File is the manifest-relative file path this error applies to,
	// empty for run-level errors.
	File string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.File, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithFile attaches the file path this error applies to.
func (e *IndexError) WithFile(path string) *IndexError {
	e.File = path
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ae, ok := err.(*IndexError); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity. Fatal errors abort the run
// with nothing committed.
func IsFatal(err error) bool {
	if ae, ok := err.(*IndexError); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError.
// Returns empty string for other error types.
func GetCode(err error) string {
	if ae, ok := err.(*IndexError); ok {
		return ae.Code
	}
	return ""
}
