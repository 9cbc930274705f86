package procurement

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationOperation is the kind of portal exchange an attempt records
type IntegrationOperation string

const (
	OperationSendOrder       IntegrationOperation = "send_order"
	OperationWebhookResponse IntegrationOperation = "webhook_response"
	OperationResync          IntegrationOperation = "resync"
	OperationResend          IntegrationOperation = "resend"
)

// IsDelivery reports whether the operation pushes the order snapshot to the portal
func (op IntegrationOperation) IsDelivery() bool {
	return op == OperationSendOrder || op == OperationResend
}

// AttemptStatus is the lifecycle of one attempt
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSending AttemptStatus = "sending"
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
	AttemptTimeout AttemptStatus = "timeout"
)

// IsFinal reports whether the attempt can no longer change
func (s AttemptStatus) IsFinal() bool {
	return s == AttemptSuccess || s == AttemptError || s == AttemptTimeout
}

// IntegrationAttempt records one portal exchange for an order.
// Attempts are append-only history: a retry creates a new row.
type IntegrationAttempt struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Operation       IntegrationOperation
	AttemptNumber   int
	Status          AttemptStatus
	RequestPayload  []byte
	ResponsePayload []byte
	ErrorMessage    string
	NextAttemptAt   *time.Time
	PortalReference string
	OriginIP        string
	SignatureDigest string
	MessageID       string
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewDispatchAttempt opens an outbound attempt in status sending
func NewDispatchAttempt(orderID uuid.UUID, op IntegrationOperation, number int, payload []byte, digest string, now time.Time) *IntegrationAttempt {
	return &IntegrationAttempt{
		ID:              uuid.New(),
		OrderID:         orderID,
		Operation:       op,
		AttemptNumber:   number,
		Status:          AttemptSending,
		RequestPayload:  payload,
		SignatureDigest: digest,
		StartedAt:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewInboundAttempt records a validated inbound portal message; it is final on creation
func NewInboundAttempt(orderID uuid.UUID, number int, messageID, originIP, digest string, payload, ack []byte, now time.Time) *IntegrationAttempt {
	return &IntegrationAttempt{
		ID:              uuid.New(),
		OrderID:         orderID,
		Operation:       OperationWebhookResponse,
		AttemptNumber:   number,
		Status:          AttemptSuccess,
		RequestPayload:  payload,
		ResponsePayload: ack,
		OriginIP:        originIP,
		SignatureDigest: digest,
		MessageID:       messageID,
		StartedAt:       &now,
		FinishedAt:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (a *IntegrationAttempt) finish(status AttemptStatus, now time.Time) error {
	if a.Status.IsFinal() {
		return ErrInvalidTransition.
			With("attempt_id", a.ID.String()).
			With("from", string(a.Status)).
			With("to", string(status))
	}
	a.Status = status
	a.FinishedAt = &now
	a.UpdatedAt = now
	return nil
}

// MarkSuccess closes the attempt with the portal acknowledgment
func (a *IntegrationAttempt) MarkSuccess(response []byte, reference string, now time.Time) error {
	if err := a.finish(AttemptSuccess, now); err != nil {
		return err
	}
	a.ResponsePayload = response
	a.PortalReference = reference
	return nil
}

// MarkError closes the attempt as failed; nextAt is when the retry will run
func (a *IntegrationAttempt) MarkError(msg string, response []byte, nextAt *time.Time, now time.Time) error {
	if err := a.finish(AttemptError, now); err != nil {
		return err
	}
	a.ErrorMessage = msg
	a.ResponsePayload = response
	a.NextAttemptAt = nextAt
	return nil
}

// MarkTimeout closes the last attempt of an exhausted chain
func (a *IntegrationAttempt) MarkTimeout(msg string, response []byte, now time.Time) error {
	if err := a.finish(AttemptTimeout, now); err != nil {
		return err
	}
	a.ErrorMessage = msg
	a.ResponsePayload = response
	return nil
}
