// Package errors provides standardized error handling for the insurance ledger service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the ledger service.
type ErrorCode string

const (
	// Validation errors
	INS_VALIDATION    ErrorCode = "INS_VALIDATION"    // General validation error
	INS_SCHEMA_REJECT ErrorCode = "INS_SCHEMA_REJECT" // Payload schema validation failed
	INS_BAD_REQUEST   ErrorCode = "INS_BAD_REQUEST"   // Bad request
	INS_INVALID_ROLE  ErrorCode = "INS_INVALID_ROLE"  // Role is neither policyholder nor admin

	// Authentication/Authorization errors
	INS_AUTHN            ErrorCode = "INS_AUTHN"            // Authentication failed
	INS_AUTHZ            ErrorCode = "INS_AUTHZ"            // Authorization failed
	INS_JWT_INVALID      ErrorCode = "INS_JWT_INVALID"      // Invalid JWT
	INS_JWT_EXPIRED      ErrorCode = "INS_JWT_EXPIRED"      // Expired JWT
	INS_JWT_MALFORMED    ErrorCode = "INS_JWT_MALFORMED"    // Malformed JWT
	INS_ADDRESS_MISMATCH ErrorCode = "INS_ADDRESS_MISMATCH" // Asserted address does not match JWT subject
	INS_NOT_ADMIN        ErrorCode = "INS_NOT_ADMIN"        // Caller is not an admin
	INS_NOT_POLICYHOLDER ErrorCode = "INS_NOT_POLICYHOLDER" // Caller is not a policyholder

	// State-precondition errors
	INS_ALREADY_REGISTERED   ErrorCode = "INS_ALREADY_REGISTERED"   // Account already exists for the address
	INS_NOT_REGISTERED       ErrorCode = "INS_NOT_REGISTERED"       // No account exists for the address
	INS_ALREADY_INITIALIZED  ErrorCode = "INS_ALREADY_INITIALIZED"  // Ledger bootstrap already ran
	INS_NOT_INITIALIZED      ErrorCode = "INS_NOT_INITIALIZED"      // Ledger bootstrap has not run
	INS_INSUFFICIENT_PAYMENT ErrorCode = "INS_INSUFFICIENT_PAYMENT" // Payment below the converted minimum premium
	INS_CLAIM_NOT_PENDING    ErrorCode = "INS_CLAIM_NOT_PENDING"    // Claim is not in the pending state
	INS_ESCROW_INACTIVE      ErrorCode = "INS_ESCROW_INACTIVE"      // Escrow is no longer collecting installments

	// Not-found errors
	INS_NOT_FOUND        ErrorCode = "INS_NOT_FOUND"        // Generic resource not found
	INS_POLICY_NOT_FOUND ErrorCode = "INS_POLICY_NOT_FOUND" // Policy or active ownership not found
	INS_CLAIM_NOT_FOUND  ErrorCode = "INS_CLAIM_NOT_FOUND"  // Claim not found
	INS_ESCROW_NOT_FOUND ErrorCode = "INS_ESCROW_NOT_FOUND" // Escrow record not found
	INS_CONFLICT         ErrorCode = "INS_CONFLICT"         // Resource conflict

	// External-dependency errors
	INS_TRANSFER_FAILED ErrorCode = "INS_TRANSFER_FAILED" // Asset transfer collaborator rejected the transfer

	// Server errors
	INS_INTERNAL    ErrorCode = "INS_INTERNAL"    // Internal server error
	INS_UNAVAILABLE ErrorCode = "INS_UNAVAILABLE" // Service unavailable
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

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match ledger errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case INS_VALIDATION, INS_SCHEMA_REJECT, INS_BAD_REQUEST, INS_INVALID_ROLE:
		return http.StatusBadRequest
	case INS_AUTHZ, INS_ADDRESS_MISMATCH, INS_NOT_ADMIN, INS_NOT_POLICYHOLDER:
		return http.StatusForbidden
	case INS_AUTHN, INS_JWT_INVALID, INS_JWT_EXPIRED, INS_JWT_MALFORMED:
		return http.StatusUnauthorized
	case INS_NOT_FOUND, INS_POLICY_NOT_FOUND, INS_CLAIM_NOT_FOUND, INS_ESCROW_NOT_FOUND, INS_NOT_REGISTERED:
		return http.StatusNotFound
	case INS_CONFLICT, INS_ALREADY_REGISTERED, INS_ALREADY_INITIALIZED, INS_CLAIM_NOT_PENDING, INS_ESCROW_INACTIVE:
		return http.StatusConflict
	case INS_INSUFFICIENT_PAYMENT:
		return http.StatusPaymentRequired
	case INS_TRANSFER_FAILED:
		return http.StatusBadGateway
	case INS_NOT_INITIALIZED, INS_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
