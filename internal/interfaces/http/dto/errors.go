package dto

import (
	"net/http"

	"github.com/erp/procurement/internal/domain/procurement"
)

// Transport-level error codes. Domain codes are passed through unchanged.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeInvalidJSON  = "INVALID_JSON"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "TOKEN_INVALID"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeBodyTooLarge = "BODY_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeBodyTooLarge: http.StatusRequestEntityTooLarge,

	// Validation failures are well-formed requests with unacceptable content
	procurement.CodeValidation:  http.StatusUnprocessableEntity,
	procurement.CodePolicyEmpty: http.StatusUnprocessableEntity,

	// State conflicts
	procurement.CodeInvalidTransition:    http.StatusConflict,
	procurement.CodeConcurrencyConflict:  http.StatusConflict,
	procurement.CodeDispatchInProgress:   http.StatusConflict,
	procurement.CodeIntegrationExhausted: http.StatusConflict,
	procurement.CodeUnexpectedResponse:   http.StatusConflict,
	procurement.CodeStepNotActive:        http.StatusConflict,
	procurement.CodeStepAlreadyResolved:  http.StatusConflict,
	procurement.CodeApprovalClosed:       http.StatusConflict,
	procurement.CodeDelegation:           http.StatusConflict,

	procurement.CodeApproverMismatch: http.StatusForbidden,

	// Inbound portal messages
	procurement.CodeInvalidSignature: http.StatusUnauthorized,
	procurement.CodeStaleMessage:     http.StatusUnauthorized,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
