package procurement

import (
	"context"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
)

// OrderFilter narrows order listings
type OrderFilter struct {
	shared.Filter
	Status          OrderStatus
	SupplierRef     string
	CostCenter      string
	IncludeArchived bool
}

// OrderRepository is the read side of the order store.
// Writes go through UnitOfWork so that every mutation is one transaction.
type OrderRepository interface {
	// FindByID loads an order with its items; archived orders are not found
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// FindByCorrelationID resolves the portal correlation id of an inbound message
	FindByCorrelationID(ctx context.Context, correlationID string) (*Order, error)

	// FindAll lists orders with filtering and pagination, returning the total count
	FindAll(ctx context.Context, filter OrderFilter) ([]*Order, int64, error)

	// GenerateSequenceNumber returns the next PO-YYYYMMDD-NNNNNN number for the day of now
	GenerateSequenceNumber(ctx context.Context, now time.Time) (string, error)
}

// ApprovalStepRepository reads approval steps
type ApprovalStepRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ApprovalStep, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*ApprovalStep, error)

	// FindDueForExpiry returns active pending steps whose expiration passed, oldest first
	FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*ApprovalStep, error)
}

// IntegrationAttemptRepository reads portal integration attempts
type IntegrationAttemptRepository interface {
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*IntegrationAttempt, error)

	// FindInFlight returns the attempt currently sending for the order, or nil
	FindInFlight(ctx context.Context, orderID uuid.UUID) (*IntegrationAttempt, error)

	// LastAttemptNumber returns the highest attempt number for the order and operation (0 if none)
	LastAttemptNumber(ctx context.Context, orderID uuid.UUID, op IntegrationOperation) (int, error)

	// FindScheduledRetries returns the latest failed delivery attempt of every order
	// whose dispatch is waiting for a retry
	FindScheduledRetries(ctx context.Context) ([]*IntegrationAttempt, error)

	// FindStaleInFlight returns sending attempts started before the cutoff
	FindStaleInFlight(ctx context.Context, before time.Time) ([]*IntegrationAttempt, error)
}

// SupplierResponseRepository reads stored supplier responses
type SupplierResponseRepository interface {
	// FindByMessage looks a response up by its idempotency key
	FindByMessage(ctx context.Context, correlationID, messageID string) (*SupplierResponse, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*SupplierResponse, error)
}

// Changeset is everything one state-mutating operation writes
type Changeset struct {
	Order    *Order
	Steps    []*ApprovalStep
	Attempts []*IntegrationAttempt
	Response *SupplierResponse
	Audit    []*AuditEvent
}

// AddAudit appends audit rows, skipping nil entries
func (c *Changeset) AddAudit(events ...*AuditEvent) {
	for _, e := range events {
		if e != nil {
			c.Audit = append(c.Audit, e)
		}
	}
}

// UnitOfWork commits a changeset atomically.
//
// The order row is written with WHERE version = LoadedVersion() and a lost race
// fails with ErrConcurrencyConflict. The order's pending domain events are saved
// to the outbox in the same transaction. A supplier response colliding on
// (correlation_id, message_id) fails with ErrDuplicateMessage. On success the
// order is marked persisted.
type UnitOfWork interface {
	Commit(ctx context.Context, cs *Changeset) error
}
