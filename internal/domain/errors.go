package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Event Errors
	ErrorCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"
	ErrorCodeEventNotFound  ErrorCode = "EVENT_NOT_FOUND"

	// Ledger Errors
	ErrorCodeVersionConflict        ErrorCode = "VERSION_CONFLICT"
	ErrorCodeDuplicateAuthorization ErrorCode = "DUPLICATE_AUTHORIZATION"
	ErrorCodeNoPriorAuthorization   ErrorCode = "NO_PRIOR_AUTHORIZATION"
	ErrorCodeAmountExceedsAvailable ErrorCode = "AMOUNT_EXCEEDS_AVAILABLE"
	ErrorCodePaymentNotFound        ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodePaymentExists          ErrorCode = "PAYMENT_ALREADY_EXISTS"

	// Payment Gateway Errors
	ErrorCodeTransientGateway  ErrorCode = "TRANSIENT_GATEWAY_ERROR"
	ErrorCodeRejectedByGateway ErrorCode = "REJECTED_BY_GATEWAY"

	// Reconciliation Errors
	ErrorCodeReconciliationFailed ErrorCode = "RECONCILIATION_FAILED"
	ErrorCodeOrderCreationFailed  ErrorCode = "ORDER_CREATION_FAILED"

	// Validation Errors
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal Errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so sentinel values
// below work with errors.Is even after WithDetail copies.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Err == nil && len(t.Details) == 0
	}
	return false
}

// WithDetail returns a copy of the error carrying an extra detail field
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Err: e.Err, Details: details, Code: e.Code, Message: e.Message}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return NewDomainError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsBusinessRuleViolation reports ledger invariant violations. They are not
// retried automatically and need an operator to look at the payment.
func IsBusinessRuleViolation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeDuplicateAuthorization ||
		code == ErrorCodeNoPriorAuthorization ||
		code == ErrorCodeAmountExceedsAvailable
}

// IsRetryable reports whether replaying the same event later may succeed.
// Unclassified errors are treated as infrastructure failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetErrorCode(err) {
	case ErrorCodeVersionConflict,
		ErrorCodeTransientGateway,
		ErrorCodeReconciliationFailed,
		ErrorCodeOrderCreationFailed,
		ErrorCodeDatabaseError,
		ErrorCodeInternalError,
		ErrorCodePaymentNotFound:
		return true
	case "":
		return true
	default:
		return false
	}
}

// Structured error instances
var (
	ErrMalformedEvent = NewDomainError(ErrorCodeMalformedEvent, "malformed payment event")
	ErrEventNotFound  = NewDomainError(ErrorCodeEventNotFound, "event not found in inbox")

	ErrVersionConflict        = NewDomainError(ErrorCodeVersionConflict, "payment version changed concurrently")
	ErrDuplicateAuthorization = NewDomainError(ErrorCodeDuplicateAuthorization, "payment already has a successful authorization")
	ErrNoPriorAuthorization   = NewDomainError(ErrorCodeNoPriorAuthorization, "no prior successful authorization")
	ErrAmountExceedsAvailable = NewDomainError(ErrorCodeAmountExceedsAvailable, "amount exceeds available balance")
	ErrPaymentNotFound        = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrPaymentExists          = NewDomainError(ErrorCodePaymentExists, "payment already exists")

	ErrTransientGateway  = NewDomainError(ErrorCodeTransientGateway, "payment gateway temporarily unavailable")
	ErrRejectedByGateway = NewDomainError(ErrorCodeRejectedByGateway, "operation rejected by payment gateway")

	ErrReconciliationFailed = NewDomainError(ErrorCodeReconciliationFailed, "reconciliation failed")
	ErrOrderCreationFailed  = NewDomainError(ErrorCodeOrderCreationFailed, "order creation failed")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrDatabaseError    = NewDomainError(ErrorCodeDatabaseError, "database error")
)
