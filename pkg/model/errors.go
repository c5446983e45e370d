package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the controller wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrConnectionFailure = errors.New("connection failure")
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrQueryFailure      = errors.New("query failure")
	ErrRemovalFailure    = errors.New("removal failure")
	ErrClosed            = errors.New("controller closed")
)

// OpError records the operation that failed and the kind of failure.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError wraps err as a failure of kind during op.
func NewOpError(kind error, op string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Err: err}
}

// InvalidParameter returns an ErrInvalidParameter error for a named field.
func InvalidParameter(field, format string, args ...any) error {
	return &OpError{
		Kind: ErrInvalidParameter,
		Op:   field,
		Err:  fmt.Errorf(format, args...),
	}
}

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeSubmissionFailed ErrorCode = "SUBMISSION_FAILED"
	ErrCodeUnavailable      ErrorCode = "UNAVAILABLE"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the control API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrCodeInternal, Message: msg}
}

// ToAPIError maps a controller error onto the API error taxonomy.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrInvalidParameter):
		return NewValidationError(err.Error())
	case errors.Is(err, ErrClosed):
		return &APIError{Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, ErrSubmissionFailed):
		return &APIError{Code: ErrCodeSubmissionFailed, Message: err.Error()}
	case errors.Is(err, ErrConnectionFailure), errors.Is(err, ErrQueryFailure):
		return &APIError{Code: ErrCodeUnavailable, Message: err.Error()}
	default:
		return NewInternalError(err.Error())
	}
}
