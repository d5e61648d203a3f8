// Package errors provides the engine's error taxonomy
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents semantic error codes for consistent error handling
type ErrorCode string

const (
	// Degrade-and-log codes: never returned from the scheduling heuristics
	ErrorCodeConfigurationGap ErrorCode = "CONFIGURATION_GAP"
	ErrorCodeDataGap          ErrorCode = "DATA_GAP"

	// Notification timing and delivery
	ErrorCodeSchedulingConflict ErrorCode = "SCHEDULING_CONFLICT"
	ErrorCodeDispatchFailure    ErrorCode = "DISPATCH_FAILURE"
	ErrorCodeInvalidWindow      ErrorCode = "INVALID_WINDOW"

	// Outer layers
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeStorage    ErrorCode = "STORAGE_ERROR"
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// EngineError carries a taxonomy code alongside the underlying cause
type EngineError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the Go error interface
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any EngineError with the same code
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if errors.As(target, &other) {
		return other.Code == e.Code && other.Message == ""
	}
	return false
}

// WithDetail attaches a key/value to the error details
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the code onto an HTTP status for the API layer
func (e *EngineError) HTTPStatus() int {
	switch e.Code {
	case ErrorCodeValidation:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeSchedulingConflict, ErrorCodeInvalidWindow:
		return http.StatusConflict
	case ErrorCodeDispatchFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels usable with errors.Is
var (
	ErrConfigurationGap   = &EngineError{Code: ErrorCodeConfigurationGap}
	ErrDataGap            = &EngineError{Code: ErrorCodeDataGap}
	ErrSchedulingConflict = &EngineError{Code: ErrorCodeSchedulingConflict}
	ErrDispatchFailure    = &EngineError{Code: ErrorCodeDispatchFailure}
	ErrInvalidWindow      = &EngineError{Code: ErrorCodeInvalidWindow}
	ErrValidation         = &EngineError{Code: ErrorCodeValidation}
	ErrNotFound           = &EngineError{Code: ErrorCodeNotFound}
)

// New creates an error with the given code
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Wrap creates an error with the given code around a cause
func Wrap(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// NewConfigurationGap reports a missing table entry (unknown stage or task type)
func NewConfigurationGap(what string, key interface{}) *EngineError {
	return New(ErrorCodeConfigurationGap, fmt.Sprintf("no %s configured for %v", what, key)).
		WithDetail(what, key)
}

// NewDataGap reports a missing input field that was replaced by a default
func NewDataGap(field string) *EngineError {
	return New(ErrorCodeDataGap, fmt.Sprintf("missing %s, defaults substituted", field)).
		WithDetail("field", field)
}

// NewDispatchFailure wraps a dispatcher error for a batch
func NewDispatchFailure(batchID string, attempt int, err error) *EngineError {
	return Wrap(ErrorCodeDispatchFailure, fmt.Sprintf("dispatch of batch %s failed", batchID), err).
		WithDetail("batch_id", batchID).
		WithDetail("attempt", attempt)
}

// NewInvalidWindow reports a batch that has no schedulable time
func NewInvalidWindow(batchID, reason string) *EngineError {
	return New(ErrorCodeInvalidWindow, fmt.Sprintf("batch %s has no schedulable time: %s", batchID, reason)).
		WithDetail("batch_id", batchID)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, reason string) *EngineError {
	return New(ErrorCodeValidation, fmt.Sprintf("validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field)
}

// NewNotFound reports a missing entity
func NewNotFound(kind, id string) *EngineError {
	return New(ErrorCodeNotFound, fmt.Sprintf("%s %s not found", kind, id)).WithDetail("id", id)
}

// CodeOf extracts the taxonomy code from an error chain, INTERNAL_ERROR when absent
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrorCodeInternal
}
