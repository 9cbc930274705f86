package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultConflictRetries is how many times a read-modify-write runs before a
// concurrency conflict is returned to the caller
const DefaultConflictRetries = 3

// Store bundles the order store ports
type Store struct {
	Orders     procurement.OrderRepository
	Steps      procurement.ApprovalStepRepository
	Attempts   procurement.IntegrationAttemptRepository
	Responses  procurement.SupplierResponseRepository
	Ledger     procurement.AuditLedger
	UnitOfWork procurement.UnitOfWork
}

// Metrics receives engine measurements
type Metrics interface {
	RecordTransition(ctx context.Context, trigger procurement.Trigger, to procurement.OrderStatus)
	RecordApprovalDecision(ctx context.Context, decision string, level int)
	RecordDispatchAttempt(ctx context.Context, op procurement.IntegrationOperation, status procurement.AttemptStatus, elapsed time.Duration)
	RecordInboundRejected(ctx context.Context, code string)
	RecordConflict(ctx context.Context, operation string)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(context.Context, procurement.Trigger, procurement.OrderStatus) {
}

func (noopMetrics) RecordApprovalDecision(context.Context, string, int) {}

func (noopMetrics) RecordDispatchAttempt(context.Context, procurement.IntegrationOperation, procurement.AttemptStatus, time.Duration) {
}

func (noopMetrics) RecordInboundRejected(context.Context, string) {}

func (noopMetrics) RecordConflict(context.Context, string) {}

// RetryOnConflict runs fn up to attempts times while it fails with a
// concurrency conflict. Every run must re-read its state.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		var final finalConflict
		if errors.As(err, &final) {
			return final.error
		}
		if err == nil || !errors.Is(err, procurement.ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

// finalConflict is a conflict a fresh read cannot resolve, such as a stale
// version presented by the caller
type finalConflict struct{ error }

func (f finalConflict) Unwrap() error { return f.error }

// auditScope names the audit row written when an operation does not take effect
type auditScope struct {
	OrderID uuid.UUID
	Event   string
	Actor   string
	Origin  string
}

// executor is the shared unit-of-work runner of the procurement services
type executor struct {
	store     Store
	clock     shared.Clock
	metrics   Metrics
	logger    *zap.Logger
	conflicts int
}

func newExecutor(store Store, clock shared.Clock, logger *zap.Logger) *executor {
	if clock == nil {
		clock = shared.NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &executor{store: store, clock: clock, metrics: noopMetrics{}, logger: logger, conflicts: DefaultConflictRetries}
}

// mutate runs fn with bounded conflict retries. Lost races and the final
// failure are recorded in the audit ledger outside the failed transaction.
func (x *executor) mutate(ctx context.Context, scope auditScope, fn func(ctx context.Context) error) error {
	err := RetryOnConflict(ctx, x.conflicts, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, procurement.ErrConcurrencyConflict) {
			x.metrics.RecordConflict(ctx, scope.Event)
			x.recordFailure(ctx, scope, err)
		}
		return err
	})
	if err != nil && !errors.Is(err, procurement.ErrConcurrencyConflict) {
		x.recordFailure(ctx, scope, err)
	}
	return err
}

// recordFailure appends a failure audit row. Validation errors are never
// persisted and unknown orders have nothing to attach to.
func (x *executor) recordFailure(ctx context.Context, scope auditScope, err error) {
	if scope.OrderID == uuid.Nil || errors.Is(err, procurement.ErrValidation) || errors.Is(err, shared.ErrNotFound) {
		return
	}
	if errors.Is(err, errNothingToDispatch) || errors.Is(err, procurement.ErrDuplicateMessage) {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	audit := procurement.NewFailureAudit(scope.OrderID, scope.Event, scope.Actor, scope.Origin, err, x.clock.Now())
	if recErr := x.store.Ledger.Record(context.WithoutCancel(ctx), audit); recErr != nil {
		x.logger.Error("failed to record audit event",
			zap.String("order_id", scope.OrderID.String()),
			zap.String("event", scope.Event),
			zap.Error(recErr),
		)
	}
}

// commit writes cs and reports applied transitions to metrics
func (x *executor) commit(ctx context.Context, cs *procurement.Changeset) error {
	if err := x.store.UnitOfWork.Commit(ctx, cs); err != nil {
		return err
	}
	for _, a := range cs.Audit {
		if a.Outcome == procurement.AuditApplied && a.FromStatus != a.ToStatus {
			x.metrics.RecordTransition(ctx, triggerOf(a.Event), a.ToStatus)
		}
	}
	return nil
}

func triggerOf(event string) procurement.Trigger {
	const prefix = "order."
	if len(event) > len(prefix) && event[:len(prefix)] == prefix {
		return procurement.Trigger(event[len(prefix):])
	}
	return procurement.Trigger(event)
}
