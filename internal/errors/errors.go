// Package errors provides standardized error handling for the AgriVault data service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the AgriVault data service.
type ErrorCode string

const (
	// Validation errors
	AV_VALIDATION     ErrorCode = "AV_VALIDATION"     // General validation error
	AV_SCHEMA_REJECT  ErrorCode = "AV_SCHEMA_REJECT"  // Queue payload schema validation failed
	AV_BAD_REQUEST    ErrorCode = "AV_BAD_REQUEST"    // Bad request
	AV_BAD_COLLECTION ErrorCode = "AV_BAD_COLLECTION" // Unknown collection name

	// Authentication/Authorization errors
	AV_INVALID_CREDENTIALS ErrorCode = "AV_INVALID_CREDENTIALS" // Identifier/secret did not match
	AV_AUTHN               ErrorCode = "AV_AUTHN"               // Authentication failed
	AV_TOKEN_INVALID       ErrorCode = "AV_TOKEN_INVALID"       // Invalid session token
	AV_TOKEN_EXPIRED       ErrorCode = "AV_TOKEN_EXPIRED"       // Expired session token

	// Resource errors
	AV_NOT_FOUND         ErrorCode = "AV_NOT_FOUND"         // Resource not found
	AV_CONFLICT          ErrorCode = "AV_CONFLICT"          // Resource conflict
	AV_CAPACITY_EXCEEDED ErrorCode = "AV_CAPACITY_EXCEEDED" // Facility capacity exceeded
	AV_BAD_TRANSITION    ErrorCode = "AV_BAD_TRANSITION"    // Invalid status transition
	AV_QUEUE_FULL        ErrorCode = "AV_QUEUE_FULL"        // Offline queue at capacity

	// Server errors
	AV_INTERNAL    ErrorCode = "AV_INTERNAL"    // Internal server error
	AV_UNAVAILABLE ErrorCode = "AV_UNAVAILABLE" // Service or durable storage unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// InvalidCredentials creates the error returned when an identifier/secret
// pair does not match a known profile. The message is user-facing.
func InvalidCredentials(correlationID string) *Error {
	return New(AV_INVALID_CREDENTIALS, "Invalid login credentials", correlationID)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case AV_VALIDATION, AV_SCHEMA_REJECT, AV_BAD_REQUEST, AV_BAD_COLLECTION, AV_BAD_TRANSITION:
		return http.StatusBadRequest
	case AV_INVALID_CREDENTIALS, AV_AUTHN, AV_TOKEN_INVALID, AV_TOKEN_EXPIRED:
		return http.StatusUnauthorized
	case AV_NOT_FOUND:
		return http.StatusNotFound
	case AV_CONFLICT, AV_CAPACITY_EXCEEDED:
		return http.StatusConflict
	case AV_QUEUE_FULL:
		return http.StatusTooManyRequests
	case AV_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
