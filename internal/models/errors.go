package models

// APIError represents a standardized error response format for the API.
type APIError struct {
	Code    string      `json:"code"`              // Application-specific error code (e.g., "NOT_FOUND", "VALIDATION_ERROR")
	Message string      `json:"message"`           // Human-readable message describing the error
	Details interface{} `json:"details,omitempty"` // Optional field for additional error details
}

// Predefined application-specific error codes
const (
	// Generic Errors
	ErrorCodeInternalServerError = "INTERNAL_SERVER_ERROR"
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"

	// Input Validation & Data Errors
	ErrorCodeValidation      = "VALIDATION_ERROR" // General validation failure
	ErrorCodeInvalidJSON     = "INVALID_JSON"     // Malformed JSON payload
	ErrorCodeInvalidIDFormat = "INVALID_ID_FORMAT"

	// Resource Specific Errors
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeExecutionNotFound = "EXECUTION_NOT_FOUND"

	// Auth Errors
	ErrorCodeUnauthorized = "UNAUTHORIZED"
)
