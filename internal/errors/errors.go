// Package errors provides application error codes for the TaskNexus backend.
package errors

import "fmt"

// ErrorCode represents a unique application error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// List/item errors
	ErrListNotFound ErrorCode = "LIST_NOT_FOUND"
	ErrListInvalid  ErrorCode = "LIST_INVALID"
	ErrItemNotFound ErrorCode = "ITEM_NOT_FOUND"
	ErrItemInvalid  ErrorCode = "ITEM_INVALID"

	// Sync errors
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncConflict      ErrorCode = "SYNC_CONFLICT"
	ErrManualResolution  ErrorCode = "MANUAL_RESOLUTION_REQUIRED"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemotePayload     ErrorCode = "REMOTE_PAYLOAD_INVALID"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code. It walks the Unwrap
// chain so wrapped AppErrors are still recognized.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err is not an
// AppError.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}
