package procurement

import (
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeOrder is the aggregate type for all procurement events
const AggregateTypeOrder = "PurchaseOrder"

// Event type constants
const (
	EventTypeOrderCreated             = "OrderCreated"
	EventTypeOrderStatusChanged       = "OrderStatusChanged"
	EventTypeApprovalRequested        = "ApprovalRequested"
	EventTypeApprovalStepResolved     = "ApprovalStepResolved"
	EventTypeApprovalEscalated        = "ApprovalEscalated"
	EventTypeDispatchFailed           = "DispatchFailed"
	EventTypeIntegrationExhausted     = "IntegrationExhausted"
	EventTypeSupplierResponseReceived = "SupplierResponseReceived"
)

// OrderCreatedEvent is raised when a draft order is created
type OrderCreatedEvent struct {
	shared.BaseDomainEvent
	SequenceNumber string          `json:"sequence_number"`
	SupplierRef    string          `json:"supplier_ref"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	CreatedBy      string          `json:"created_by"`
}

// NewOrderCreatedEvent creates an OrderCreatedEvent
func NewOrderCreatedEvent(o *Order) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderCreated, AggregateTypeOrder, o.ID, o.CreatedAt),
		SequenceNumber:  o.SequenceNumber,
		SupplierRef:     o.SupplierRef,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		CreatedBy:       o.CreatedBy,
	}
}

// OrderStatusChangedEvent is raised for every applied transition
type OrderStatusChangedEvent struct {
	shared.BaseDomainEvent
	SequenceNumber string      `json:"sequence_number"`
	FromStatus     OrderStatus `json:"from_status"`
	ToStatus       OrderStatus `json:"to_status"`
	Trigger        Trigger     `json:"trigger"`
	Actor          string      `json:"actor"`
	Reason         string      `json:"reason,omitempty"`
	Version        int         `json:"version"`
}

// NewOrderStatusChangedEvent creates an OrderStatusChangedEvent
func NewOrderStatusChangedEvent(o *Order, from OrderStatus, req TransitionRequest, at time.Time) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderStatusChanged, AggregateTypeOrder, o.ID, at),
		SequenceNumber:  o.SequenceNumber,
		FromStatus:      from,
		ToStatus:        o.Status,
		Trigger:         req.Trigger,
		Actor:           req.Actor,
		Reason:          req.Reason,
		Version:         o.Version,
	}
}

// ApprovalRequestedEvent asks the approvers of one level to act
type ApprovalRequestedEvent struct {
	shared.BaseDomainEvent
	Level     int          `json:"level"`
	Mode      ApprovalMode `json:"mode"`
	StepIDs   []uuid.UUID  `json:"step_ids"`
	Approvers []string     `json:"approvers"`
}

// NewApprovalRequestedEvent creates an ApprovalRequestedEvent for the given steps
func NewApprovalRequestedEvent(orderID uuid.UUID, steps []*ApprovalStep, at time.Time) *ApprovalRequestedEvent {
	e := &ApprovalRequestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalRequested, AggregateTypeOrder, orderID, at),
		StepIDs:         make([]uuid.UUID, 0, len(steps)),
		Approvers:       make([]string, 0, len(steps)),
	}
	for _, s := range steps {
		e.Level = s.Level
		e.Mode = s.Mode
		e.StepIDs = append(e.StepIDs, s.ID)
		e.Approvers = append(e.Approvers, s.Approver)
	}
	return e
}

// ApprovalStepResolvedEvent reports an approve/reject decision
type ApprovalStepResolvedEvent struct {
	shared.BaseDomainEvent
	StepID   uuid.UUID          `json:"step_id"`
	Level    int                `json:"level"`
	Status   ApprovalStepStatus `json:"status"`
	Actor    string             `json:"actor"`
	Comments string             `json:"comments,omitempty"`
}

// NewApprovalStepResolvedEvent creates an ApprovalStepResolvedEvent
func NewApprovalStepResolvedEvent(step *ApprovalStep, at time.Time) *ApprovalStepResolvedEvent {
	return &ApprovalStepResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalStepResolved, AggregateTypeOrder, step.OrderID, at),
		StepID:          step.ID,
		Level:           step.Level,
		Status:          step.Status,
		Actor:           step.Approver,
		Comments:        step.Comments,
	}
}

// ApprovalEscalatedEvent is raised when a step passes its expiration unresolved
type ApprovalEscalatedEvent struct {
	shared.BaseDomainEvent
	StepID    uuid.UUID `json:"step_id"`
	Level     int       `json:"level"`
	Approver  string    `json:"approver"`
	ExpiredAt time.Time `json:"expired_at"`
}

// NewApprovalEscalatedEvent creates an ApprovalEscalatedEvent
func NewApprovalEscalatedEvent(step *ApprovalStep, at time.Time) *ApprovalEscalatedEvent {
	return &ApprovalEscalatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalEscalated, AggregateTypeOrder, step.OrderID, at),
		StepID:          step.ID,
		Level:           step.Level,
		Approver:        step.Approver,
		ExpiredAt:       at,
	}
}

// DispatchFailedEvent reports a failed delivery attempt that will be retried
type DispatchFailedEvent struct {
	shared.BaseDomainEvent
	AttemptID     uuid.UUID            `json:"attempt_id"`
	Operation     IntegrationOperation `json:"operation"`
	AttemptNumber int                  `json:"attempt_number"`
	Error         string               `json:"error"`
	NextAttemptAt *time.Time           `json:"next_attempt_at,omitempty"`
}

// NewDispatchFailedEvent creates a DispatchFailedEvent
func NewDispatchFailedEvent(a *IntegrationAttempt, at time.Time) *DispatchFailedEvent {
	return &DispatchFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDispatchFailed, AggregateTypeOrder, a.OrderID, at),
		AttemptID:       a.ID,
		Operation:       a.Operation,
		AttemptNumber:   a.AttemptNumber,
		Error:           a.ErrorMessage,
		NextAttemptAt:   a.NextAttemptAt,
	}
}

// IntegrationExhaustedEvent is the unresolved-integration alert
type IntegrationExhaustedEvent struct {
	shared.BaseDomainEvent
	SequenceNumber string               `json:"sequence_number"`
	AttemptID      uuid.UUID            `json:"attempt_id"`
	Operation      IntegrationOperation `json:"operation"`
	Attempts       int                  `json:"attempts"`
	LastError      string               `json:"last_error"`
}

// NewIntegrationExhaustedEvent creates an IntegrationExhaustedEvent
func NewIntegrationExhaustedEvent(o *Order, a *IntegrationAttempt, at time.Time) *IntegrationExhaustedEvent {
	return &IntegrationExhaustedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationExhausted, AggregateTypeOrder, o.ID, at),
		SequenceNumber:  o.SequenceNumber,
		AttemptID:       a.ID,
		Operation:       a.Operation,
		Attempts:        o.DispatchAttempts,
		LastError:       a.ErrorMessage,
	}
}

// SupplierResponseReceivedEvent reports an applied inbound portal message
type SupplierResponseReceivedEvent struct {
	shared.BaseDomainEvent
	ResponseID    uuid.UUID    `json:"response_id"`
	Kind          ResponseKind `json:"kind"`
	CorrelationID string       `json:"correlation_id"`
	MessageID     string       `json:"message_id"`
	OrderStatus   OrderStatus  `json:"order_status"`
}

// NewSupplierResponseReceivedEvent creates a SupplierResponseReceivedEvent
func NewSupplierResponseReceivedEvent(o *Order, r *SupplierResponse, at time.Time) *SupplierResponseReceivedEvent {
	return &SupplierResponseReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSupplierResponseReceived, AggregateTypeOrder, o.ID, at),
		ResponseID:      r.ID,
		Kind:            r.Kind(),
		CorrelationID:   r.CorrelationID,
		MessageID:       r.MessageID,
		OrderStatus:     o.Status,
	}
}
