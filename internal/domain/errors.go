// Package domain provides the session entity, login request types and
// domain errors shared by the lab gate.
package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies a DomainError and decides its HTTP status.
type ErrorType string

const (
	// ValidationError is a form submission with missing fields.
	ValidationError ErrorType = "VALIDATION_ERROR"
	// AuthenticationError is a rejected credential pair or entry pass.
	AuthenticationError ErrorType = "AUTHENTICATION_ERROR"
	// SessionExhaustedError is a request from a profile without lab time.
	SessionExhaustedError ErrorType = "SESSION_EXHAUSTED_ERROR"
	// StorageError is a key-value store failure. The gate fails closed.
	StorageError ErrorType = "STORAGE_ERROR"
	// InternalError is anything else.
	InternalError ErrorType = "INTERNAL_ERROR"
)

// Error codes raised by the gate.
const (
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEntryPassInvalid   = "ENTRY_PASS_INVALID"
	CodeEntryPassUsed      = "ENTRY_PASS_USED"
	CodeEntryPassStore     = "ENTRY_PASS_STORE"
	CodeNoProfile          = "NO_PROFILE"
	CodeNoActiveSession    = "NO_ACTIVE_SESSION"
	CodeSessionExhausted   = "SESSION_EXHAUSTED"
	CodePanicRecovered     = "PANIC_RECOVERED"
)

// DomainError is an error with a type, a stable code and a user-safe message.
type DomainError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same type and code, so package
// level errors work with errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Type == other.Type && e.Code == other.Code
}

// WithDetail returns a copy of e carrying one more detail.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	clone := *e
	clone.Details = details
	return &clone
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string, details map[string]interface{}) *DomainError {
	return &DomainError{
		Type:    ValidationError,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(code, message string) *DomainError {
	return &DomainError{
		Type:    AuthenticationError,
		Code:    code,
		Message: message,
	}
}

// NewSessionExhaustedError creates an error for a spent or missing lab session.
func NewSessionExhaustedError(code, message string) *DomainError {
	return &DomainError{
		Type:    SessionExhaustedError,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *DomainError {
	return &DomainError{
		Type:    InternalError,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewStorageError wraps a key-value store failure.
func NewStorageError(code, message string, cause error) *DomainError {
	return &DomainError{
		Type:    StorageError,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// TypeOf returns the type of the first DomainError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type, true
	}
	return "", false
}

// IsErrorType reports whether err is a DomainError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}
