package errors

import (
	stderrors "errors"
	"fmt"

	"deltar/domain/reservoir"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError
// or of the domain error class underneath
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    GetCode(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// FromDomain classifies an error from the estimation path. Errors that are already
// AppErrors are returned as they are.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: codeOf(err), Message: messageOf(err), Cause: err}
}

// GetCode returns the code of the outermost AppError, the code of the domain error
// class, or INTERNAL_ERROR
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return codeOf(err)
}

func codeOf(err error) string {
	switch {
	case stderrors.Is(err, reservoir.ErrCurveNotFound), stderrors.Is(err, reservoir.ErrTableNotFound):
		return CodeNotFound
	case reservoir.IsValidationError(err):
		return CodeValidationError
	case reservoir.IsComputationError(err):
		return CodeComputationError
	case reservoir.IsCollaboratorError(err):
		return CodeCollaboratorError
	}
	return CodeInternalError
}

func messageOf(err error) string {
	switch codeOf(err) {
	case CodeNotFound:
		return "resource not found"
	case CodeValidationError:
		return "invalid input"
	case CodeComputationError:
		return "estimation failed"
	case CodeCollaboratorError:
		return "data provider failed"
	}
	return "internal error"
}

// Predefined error codes
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeComputationError  = "COMPUTATION_ERROR"
	CodeCollaboratorError = "COLLABORATOR_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}
