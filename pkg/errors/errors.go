package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies application errors.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeConnection   ErrorCode = "CONNECTION_ERROR"
	ErrCodeAuth         ErrorCode = "AUTH_ERROR"
	ErrCodeNegotiation  ErrorCode = "NEGOTIATION_ERROR"
	ErrCodePermission   ErrorCode = "PERMISSION_ERROR"
	ErrCodeProtocol     ErrorCode = "PROTOCOL_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError carries an error code, an HTTP status for the API layer, an
// optional cause and free-form context.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns the error for
// chaining.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// Wrap attaches a cause to a new AppError.
func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewConnectionError(cause error) *AppError {
	return Wrap(cause, ErrCodeConnection, "signaling connection failed", http.StatusBadGateway)
}

func NewProtocolError(message string) *AppError {
	return New(ErrCodeProtocol, message, http.StatusBadRequest)
}

// GetAppError extracts the first AppError in the chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsAppError reports whether the chain contains an AppError.
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}
