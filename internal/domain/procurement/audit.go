package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
)

// AuditOutcome tags whether the audited operation took effect
type AuditOutcome string

const (
	AuditApplied   AuditOutcome = "applied"
	AuditRejected  AuditOutcome = "rejected"
	AuditConflict  AuditOutcome = "conflict"
	AuditFailed    AuditOutcome = "failed"
	AuditDuplicate AuditOutcome = "duplicate"
)

// Origins of audited operations
const (
	OriginUser      = "user"
	OriginPortal    = "portal"
	OriginSystem    = "system"
	OriginScheduler = "scheduler"
)

// Audit event names outside the per-trigger "order.<trigger>" family
const (
	AuditOrderCreated        = "order.created"
	AuditOrderItemsUpdated   = "order.items_updated"
	AuditOrderArchived       = "order.archived"
	AuditApprovalRequested   = "approval.requested"
	AuditApprovalApproved    = "approval.step_approved"
	AuditApprovalRejected    = "approval.step_rejected"
	AuditApprovalExpired     = "approval.step_expired"
	AuditApprovalDelegated   = "approval.step_delegated"
	AuditDispatchStarted     = "dispatch.started"
	AuditDispatchSucceeded   = "dispatch.succeeded"
	AuditDispatchFailed      = "dispatch.failed"
	AuditDispatchExhausted   = "dispatch.exhausted"
	AuditPortalResponse      = "portal.response"
	AuditPortalResponseRetry = "portal.response_replayed"
)

// AuditEvent is an immutable ledger row
type AuditEvent struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Event         string
	FromStatus    OrderStatus
	ToStatus      OrderStatus
	ChangedFields []string
	Actor         string
	Origin        string
	Outcome       AuditOutcome
	ErrorCode     string
	Details       map[string]string
	OccurredAt    time.Time
}

// NewAuditEvent creates an applied audit row
func NewAuditEvent(orderID uuid.UUID, event, actor, origin string, at time.Time) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New(),
		OrderID:    orderID,
		Event:      event,
		Actor:      actor,
		Origin:     origin,
		Outcome:    AuditApplied,
		Details:    make(map[string]string),
		OccurredAt: at,
	}
}

// NewFailureAudit creates a row for an operation that did not take effect.
// The outcome is derived from err.
func NewFailureAudit(orderID uuid.UUID, event, actor, origin string, err error, at time.Time) *AuditEvent {
	e := NewAuditEvent(orderID, event, actor, origin, at)
	e.Outcome = outcomeOf(err)
	e.ErrorCode = shared.CodeOf(err)
	var de *shared.DomainError
	if errors.As(err, &de) {
		for k, v := range de.Details {
			e.Details[k] = v
		}
	}
	e.Details["error"] = err.Error()
	return e
}

func outcomeOf(err error) AuditOutcome {
	switch shared.CodeOf(err) {
	case CodeConcurrencyConflict:
		return AuditConflict
	case "":
		return AuditFailed
	default:
		return AuditRejected
	}
}

// WithStatus records the status pair
func (e *AuditEvent) WithStatus(from, to OrderStatus) *AuditEvent {
	e.FromStatus = from
	e.ToStatus = to
	return e
}

// WithFields records the changed-field set
func (e *AuditEvent) WithFields(fields ...string) *AuditEvent {
	e.ChangedFields = append(e.ChangedFields, fields...)
	return e
}

// WithDetail attaches a key/value pair
func (e *AuditEvent) WithDetail(key, value string) *AuditEvent {
	if value != "" {
		e.Details[key] = value
	}
	return e
}

// AuditLedger is the append-only audit store.
// Record writes independently of any business transaction.
type AuditLedger interface {
	Record(ctx context.Context, events ...*AuditEvent) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*AuditEvent, error)
}
