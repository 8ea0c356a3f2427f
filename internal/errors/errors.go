package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeNoAuthServices indicates the resource advertises no IIIF auth services.
	ErrCodeNoAuthServices ErrorCode = "no_auth_services"
	// ErrCodeNoLoginService indicates no service suitable for starting a flow was found.
	ErrCodeNoLoginService ErrorCode = "no_login_service"
	// ErrCodeNoTokenService indicates the selected login service has no nested token service.
	ErrCodeNoTokenService ErrorCode = "no_token_service"
	// ErrCodeUnsupportedAuthType indicates the selected service maps to no known flow.
	ErrCodeUnsupportedAuthType ErrorCode = "unsupported_auth_type"
	// ErrCodeNoPortAvailable indicates every port of the callback range is taken.
	ErrCodeNoPortAvailable ErrorCode = "no_port_available"
	// ErrCodeCallbackTimeout indicates a browser flow hit its deadline.
	ErrCodeCallbackTimeout ErrorCode = "callback_timeout"
	// ErrCodeMissingCredentials indicates a flow completed without a cookie, token or session id.
	ErrCodeMissingCredentials ErrorCode = "missing_credentials"
	// ErrCodeSessionExpired indicates a stored session is expired or was rejected upstream.
	ErrCodeSessionExpired ErrorCode = "session_expired"
	// ErrCodeNetwork indicates an upstream request failed.
	ErrCodeNetwork ErrorCode = "network"
	// ErrCodeTokenService indicates the token service reported an explicit error.
	ErrCodeTokenService ErrorCode = "token_service"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
	// Hint is actionable guidance for the caller (optional)
	Hint string
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

// WithHint returns the error with its Hint set.
func (e *AppError) WithHint(hint string) *AppError {
	e.Hint = hint
	return e
}

// New creates an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates an AppError with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return Newf(ErrCodeValidation, format, args...)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return Newf(ErrCodeInternal, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
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
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
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
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsNoAuthServices checks if an error is a NoAuthServices error.
func IsNoAuthServices(err error) bool {
	return isCode(err, ErrCodeNoAuthServices)
}

// IsNoLoginService checks if an error is a NoLoginService error.
func IsNoLoginService(err error) bool {
	return isCode(err, ErrCodeNoLoginService)
}

// IsNoPortAvailable checks if an error is a NoPortAvailable error.
func IsNoPortAvailable(err error) bool {
	return isCode(err, ErrCodeNoPortAvailable)
}

// IsCallbackTimeout checks if an error is a CallbackTimeout error.
func IsCallbackTimeout(err error) bool {
	return isCode(err, ErrCodeCallbackTimeout)
}

// IsSessionExpired checks if an error is a SessionExpired error.
func IsSessionExpired(err error) bool {
	return isCode(err, ErrCodeSessionExpired)
}

// IsNetwork checks if an error is a Network error.
func IsNetwork(err error) bool {
	return isCode(err, ErrCodeNetwork)
}

// IsTokenService checks if an error is a TokenService error.
func IsTokenService(err error) bool {
	return isCode(err, ErrCodeTokenService)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
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

// GetHint returns the first non-empty Hint found in the error chain.
func GetHint(err error) string {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Hint != "" {
			return appErr.Hint
		}
		err = appErr.Cause
	}
	return ""
}

// IsNoTokenService checks if an error is a NoTokenService error.
func IsNoTokenService(err error) bool {
	return isCode(err, ErrCodeNoTokenService)
}

// IsUnsupportedAuthType checks if an error is an UnsupportedAuthType error.
func IsUnsupportedAuthType(err error) bool {
	return isCode(err, ErrCodeUnsupportedAuthType)
}

// IsMissingCredentials checks if an error is a MissingCredentials error.
func IsMissingCredentials(err error) bool {
	return isCode(err, ErrCodeMissingCredentials)
}
