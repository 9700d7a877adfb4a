// Package errors provides the error kinds surfaced by the chat client.
//
// Codes follow the format {domain}.{error}. The presentation layer switches on
// the code (or uses errors.Is with the sentinels below) to decide whether to
// show a message, retry, or log the user out.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Auth domain
	CodeUnauthorized       = "auth.unauthorized"        // Token rejected by an authenticated call
	CodeInvalidCredentials = "auth.invalid_credentials" // Login refused
	CodeUsernameTaken      = "auth.username_taken"      // Register refused, nickname in use
	CodeValidation         = "auth.validation"          // Form or server-side validation failure
	CodeRegistrationFailed = "auth.registration_failed" // Register refused for another reason

	// Network domain
	CodeRequestFailed = "net.request_failed" // Transport-level HTTP failure (offline, timeout)

	// API domain
	CodeBadStatus    = "api.bad_status"    // Unexpected HTTP status
	CodeDecodeFailed = "api.decode_failed" // Response body did not match the expected shape

	CodeUnknown = "error.unknown"
)

// Sentinels for errors.Is. Matching is by code, so a wrapped CodedError with
// a different message still matches.
var (
	ErrUnauthorized       = New(CodeUnauthorized, "Session expired. Please login again.")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "Invalid nickname or password.")
	ErrUsernameTaken      = New(CodeUsernameTaken, "This nickname is already in use.")
	ErrRegistrationFailed = New(CodeRegistrationFailed, "Registration failed. Please try again.")
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "auth.unauthorized")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CodedError with the same code.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation returns a validation error carrying a user-facing message.
func Validation(message string) *CodedError {
	return New(CodeValidation, message)
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a user-facing message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsUnauthorized reports whether err carries the unauthorized code.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
