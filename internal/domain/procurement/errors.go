package procurement

import (
	"fmt"
	"sort"

	"github.com/erp/procurement/internal/domain/shared"
)

// Error codes surfaced to callers. Every user-visible failure carries one of these.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeConcurrencyConflict  = "CONCURRENCY_CONFLICT"
	CodePolicyEmpty          = "POLICY_EMPTY"
	CodeDelegation           = "DELEGATION_ERROR"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeStaleMessage         = "STALE_MESSAGE"
	CodeUnexpectedResponse   = "UNEXPECTED_RESPONSE"
	CodeDispatchInProgress   = "DISPATCH_IN_PROGRESS"
	CodeIntegrationExhausted = "INTEGRATION_EXHAUSTED"
	CodeStepNotActive        = "STEP_NOT_ACTIVE"
	CodeApproverMismatch     = "APPROVER_MISMATCH"
	CodeStepAlreadyResolved  = "STEP_ALREADY_RESOLVED"
	CodeApprovalClosed       = "APPROVAL_CLOSED"
)

var (
	ErrValidation           = shared.NewDomainError(CodeValidation, "Invalid order data")
	ErrInvalidTransition    = shared.NewDomainError(CodeInvalidTransition, "Requested status change is not allowed")
	ErrConcurrencyConflict  = shared.ErrConcurrencyConflict
	ErrPolicyEmpty          = shared.NewDomainError(CodePolicyEmpty, "Approval policy yields no approval levels")
	ErrDelegation           = shared.NewDomainError(CodeDelegation, "Approval step cannot be delegated")
	ErrInvalidSignature     = shared.NewDomainError(CodeInvalidSignature, "Portal message signature is invalid")
	ErrStaleMessage         = shared.NewDomainError(CodeStaleMessage, "Portal message is outside the acceptance window")
	ErrUnexpectedResponse   = shared.NewDomainError(CodeUnexpectedResponse, "Order does not accept supplier responses")
	ErrDispatchInProgress   = shared.NewDomainError(CodeDispatchInProgress, "A portal dispatch is already in progress for this order")
	ErrIntegrationExhausted = shared.NewDomainError(CodeIntegrationExhausted, "Portal dispatch retries are exhausted")
	ErrStepNotActive        = shared.NewDomainError(CodeStepNotActive, "Approval step belongs to a level that is not active yet")
	ErrApproverMismatch     = shared.NewDomainError(CodeApproverMismatch, "Actor is not the assigned approver of this step")
	ErrStepAlreadyResolved  = shared.NewDomainError(CodeStepAlreadyResolved, "Approval step is already resolved")
	ErrApprovalClosed       = shared.NewDomainError(CodeApprovalClosed, "Approval sequence is closed for this order")
	ErrOrderNotFound        = shared.NewDomainError("NOT_FOUND", "Order not found")
	ErrStepNotFound         = shared.NewDomainError("NOT_FOUND", "Approval step not found")
	ErrAttemptNotFound      = shared.NewDomainError("NOT_FOUND", "Integration attempt not found")
	ErrResponseNotFound     = shared.NewDomainError("NOT_FOUND", "Supplier response not found")

	// ErrDuplicateMessage is returned by the store when a supplier response with the
	// same correlation id and message id was committed concurrently.
	ErrDuplicateMessage = shared.NewDomainError("DUPLICATE_MESSAGE", "Supplier message already recorded")
)

// FieldErrors collects per-field validation messages
type FieldErrors map[string]string

// Add records a message for field
func (f FieldErrors) Add(field, format string, args ...interface{}) {
	f[field] = fmt.Sprintf(format, args...)
}

// Err returns a ValidationError carrying the fields, or nil when empty
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	details := make(map[string]string, len(f))
	for _, k := range keys {
		details[k] = f[k]
	}
	return &shared.DomainError{Code: CodeValidation, Message: ErrValidation.Message, Details: details}
}

// InvalidTransitionError reports a rejected status change with the attempted pair.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	Trigger Trigger
	To      OrderStatus
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition %s --%s-->", e.From, e.Trigger)
	if e.To != "" {
		msg += " " + string(e.To)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap exposes the taxonomy error with identifiers attached
func (e *InvalidTransitionError) Unwrap() error {
	de := ErrInvalidTransition.With("from", string(e.From)).With("trigger", string(e.Trigger))
	if e.OrderID != "" {
		de = de.With("order_id", e.OrderID)
	}
	if e.To != "" {
		de = de.With("to", string(e.To))
	}
	if e.Reason != "" {
		de = de.With("reason", e.Reason)
	}
	return de
}
