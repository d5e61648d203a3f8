// Package response provides standardized HTTP response structures and utilities
// for the plant-care API layer.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	engineerrors "plantcare-engine/internal/errors"
)

// ErrorCode represents standardized error codes for the API
type ErrorCode string

const (
	// Client error codes (4xx)
	ErrorCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeConflict         ErrorCode = "CONFLICT"

	// Server error codes (5xx)
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeUpstream           ErrorCode = "UPSTREAM_FAILURE"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	Timestamp string       `json:"timestamp"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// SuccessResponse represents a standardized success response
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, statusCode int, code ErrorCode, message string, details ...string) {
	errorDetails := ErrorDetails{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		errorDetails.Details = details[0]
	}
	writeErrorDetails(w, statusCode, errorDetails)
}

func writeErrorDetails(w http.ResponseWriter, statusCode int, details ErrorDetails) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:     details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: getRequestID(w),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Fallback to simple error if JSON encoding fails
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// WriteEngineError maps an engine error onto its status and code. Errors
// outside the taxonomy become 500s without leaking their text.
func WriteEngineError(w http.ResponseWriter, err error) {
	var ee *engineerrors.EngineError
	if !errors.As(err, &ee) {
		WriteInternalError(w, "Internal error")
		return
	}

	status := ee.HTTPStatus()
	details := ErrorDetails{Code: apiCode(status), Message: ee.Message, Fields: ee.Details}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		details.Message = "Internal error"
		details.Fields = nil
	}
	writeErrorDetails(w, status, details)
}

func apiCode(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrorCodeValidationFailed
	case http.StatusNotFound:
		return ErrorCodeNotFound
	case http.StatusConflict:
		return ErrorCodeConflict
	case http.StatusBadGateway:
		return ErrorCodeUpstream
	default:
		return ErrorCodeInternalError
	}
}

// WriteSuccess writes a standardized success response
func WriteSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	writeData(w, http.StatusOK, data, message...)
}

// WriteCreated writes a 201 with the created resource
func WriteCreated(w http.ResponseWriter, data interface{}, message ...string) {
	writeData(w, http.StatusCreated, data, message...)
}

// WriteStatus writes a success envelope with an explicit status code
func WriteStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	writeData(w, statusCode, data)
}

func writeData(w http.ResponseWriter, statusCode int, data interface{}, message ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := SuccessResponse{
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	_ = json.NewEncoder(w).Encode(response)
}

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusBadRequest, ErrorCodeBadRequest, message, details...)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusNotFound, ErrorCodeNotFound, message, details...)
}

// WriteValidationError writes a 422 Validation Failed error
func WriteValidationError(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusUnprocessableEntity, ErrorCodeValidationFailed, message, details...)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusInternalServerError, ErrorCodeInternalError, message, details...)
}

// WriteServiceUnavailable writes a 503 Service Unavailable error
func WriteServiceUnavailable(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusServiceUnavailable, ErrorCodeServiceUnavailable, message, details...)
}

// getRequestID extracts request ID from headers set by middleware
func getRequestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}
