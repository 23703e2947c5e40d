package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeInvalidCreds ErrorCode = "INVALID_CREDENTIALS"

	// Authorization errors
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound         ErrorCode = "USER_NOT_FOUND"
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"

	// Conflict errors
	ErrCodeConflict    ErrorCode = "CONFLICT"
	ErrCodeEmailExists ErrorCode = "EMAIL_EXISTS"

	// Crypto errors
	ErrCodeCryptoFailure ErrorCode = "CRYPTO_FAILURE"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func InvalidCredentialsError() *AppError {
	return NewWithStatus(ErrCodeInvalidCreds, "Invalid email or password", http.StatusUnauthorized)
}

// Authorization errors
func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return NewWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

func ConversationNotFoundError() *AppError {
	return NewWithStatus(ErrCodeConversationNotFound, "Conversation not found", http.StatusNotFound)
}

// Conflict errors
func ConflictError(message string) *AppError {
	return NewWithStatus(ErrCodeConflict, message, http.StatusConflict)
}

func EmailExistsError() *AppError {
	return NewWithStatus(ErrCodeEmailExists, "Email already registered", http.StatusConflict)
}

// Crypto errors
func CryptoFailureError(err error) *AppError {
	return WrapWithStatus(ErrCodeCryptoFailure, "Cryptographic operation failed", http.StatusInternalServerError, err)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
