package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the category of error for handling
type ErrorCategory string

const (
	CategoryDeclined       ErrorCategory = "declined"
	CategoryInvalidState   ErrorCategory = "invalid_state"
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	CategoryIdempotency    ErrorCategory = "idempotency"
	CategoryRateLimited    ErrorCategory = "rate_limited"
	CategoryAuthentication ErrorCategory = "authentication"
	CategorySystemError    ErrorCategory = "system_error"
	CategoryNetworkError   ErrorCategory = "network_error"
	CategoryCircuitOpen    ErrorCategory = "circuit_open"
)

// GatewayError is a classified failure from a payment gateway or downstream API
type GatewayError struct {
	Err            error
	Details        map[string]interface{}
	Code           string
	Message        string
	GatewayMessage string
	Category       ErrorCategory
	HTTPStatus     int
	IsRetriable    bool
}

func (e *GatewayError) Error() string {
	if e.GatewayMessage != "" {
		return fmt.Sprintf("%s: %s (gateway: %s)", e.Code, e.Message, e.GatewayMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying SDK or transport error
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new gateway error
func NewGatewayError(code, message string, category ErrorCategory, retriable bool) *GatewayError {
	return &GatewayError{
		Code:        code,
		Message:     message,
		Category:    category,
		IsRetriable: retriable,
		Details:     make(map[string]interface{}),
	}
}

// AsGatewayError extracts a GatewayError from the chain
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsRetriable reports whether the error is a gateway error marked retriable.
// Unclassified errors are assumed to be transport failures and retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if gwErr, ok := AsGatewayError(err); ok {
		return gwErr.IsRetriable
	}
	return true
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
