package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a typed error code.
type ErrorCode string

const (
	// ErrorCodeInternal represents a failure that could not be translated.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeNotFound represents a missing blob or namespace.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeInvalidArgument represents a malformed key, payload, length or setting.
	ErrorCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrorCodeUnauthorized represents a credential or permission failure.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeUnavailable represents a transient backend failure. Callers may retry.
	ErrorCodeUnavailable ErrorCode = "UNAVAILABLE"
	// ErrorCodeUnsupported represents an operation the provider cannot perform.
	ErrorCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// AppError represents an application error with code, message, and HTTP status.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Err        error
	Details    map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the failed operation.
func (e *AppError) Retryable() bool {
	return e.Code == ErrorCodeUnavailable
}

// NewAppError creates a new application error.
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: ToHTTPStatus(code),
	}
}

// Wrap creates a new application error around an underlying error.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: ToHTTPStatus(code),
		Err:        err,
	}
}

// Errorf creates an application error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...))
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// ErrorResponse represents the JSON error response format.
type ErrorResponse struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse converts an AppError to an ErrorResponse for JSON serialization.
func (e *AppError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// ToHTTPStatus maps an error code to HTTP status code.
func ToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUnsupported:
		return http.StatusNotImplemented
	case ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus maps an HTTP status returned by a remote store to an error code.
func FromHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge,
		status == http.StatusLengthRequired, status == http.StatusUnprocessableEntity:
		return ErrorCodeInvalidArgument
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorCodeUnauthorized
	case status == http.StatusNotFound:
		return ErrorCodeNotFound
	case status == http.StatusNotImplemented, status == http.StatusMethodNotAllowed:
		return ErrorCodeUnsupported
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ErrorCodeUnavailable
	default:
		return ErrorCodeInternal
	}
}

// FromError converts a standard error to an AppError.
// If the error is already an AppError, it returns it as-is.
// Otherwise, it wraps it as an internal error.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return Wrap(ErrorCodeInternal, "An internal error occurred", err)
}

// CodeOf returns the code carried by err, or ErrorCodeInternal when err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrorCodeInternal
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return Is(err, ErrorCodeNotFound) }

// IsInvalidArgument reports whether err is an INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool { return Is(err, ErrorCodeInvalidArgument) }

// IsUnauthorized reports whether err is an UNAUTHORIZED error.
func IsUnauthorized(err error) bool { return Is(err, ErrorCodeUnauthorized) }

// IsUnsupported reports whether err is an UNSUPPORTED error.
func IsUnsupported(err error) bool { return Is(err, ErrorCodeUnsupported) }

// IsUnavailable reports whether err is an UNAVAILABLE error.
func IsUnavailable(err error) bool { return Is(err, ErrorCodeUnavailable) }

// IsRetryable reports whether err is transient. Only UNAVAILABLE is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Retryable()
}

// Common error constructors

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrorCodeNotFound, message)
}

// NewInvalidArgumentError creates an invalid argument error.
func NewInvalidArgumentError(message string) *AppError {
	return NewAppError(ErrorCodeInvalidArgument, message)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrorCodeUnauthorized, message)
}

// NewUnavailableError creates an unavailable error.
func NewUnavailableError(message string) *AppError {
	return NewAppError(ErrorCodeUnavailable, message)
}

// NewUnsupportedError creates an unsupported error.
func NewUnsupportedError(message string) *AppError {
	return NewAppError(ErrorCodeUnsupported, message)
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternal, message)
}
