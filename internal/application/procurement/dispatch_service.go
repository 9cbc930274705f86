package procurement

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryScheduler runs delayed dispatches, at most one pending per order
type RetryScheduler interface {
	Schedule(orderID uuid.UUID, at time.Time)
	Cancel(orderID uuid.UUID)
}

// errInterrupted completes attempts left sending by a crashed process
var errInterrupted = errors.New("dispatch interrupted before completion")

// dispatchMode selects the preconditions of a dispatch request
type dispatchMode int

const (
	// modeManual is a user-requested send; it also short-cuts a scheduled retry
	modeManual dispatchMode = iota
	// modeScheduled is a first send after approval or a timed retry
	modeScheduled
	// modeResend restarts an exhausted chain
	modeResend
)

// DispatchService delivers approved orders to the supplier portal
type DispatchService struct {
	*executor
	gateway   procurement.PortalGateway
	policy    procurement.RetryPolicy
	scheduler RetryScheduler
	rnd       func() float64
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(store Store, gateway procurement.PortalGateway, policy procurement.RetryPolicy, clock shared.Clock, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		executor: newExecutor(store, clock, logger),
		gateway:  gateway,
		policy:   policy,
		rnd:      rand.Float64,
	}
}

// SetMetrics sets the metrics recorder
func (s *DispatchService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetConflictRetries sets the bounded retry count for concurrency conflicts
func (s *DispatchService) SetConflictRetries(n int) {
	if n > 0 {
		s.conflicts = n
	}
}

// SetRetryScheduler sets the scheduler that runs delayed retries
func (s *DispatchService) SetRetryScheduler(r RetryScheduler) {
	s.scheduler = r
}

// SetJitterSource replaces the jitter source, which must return values in [0,1)
func (s *DispatchService) SetJitterSource(rnd func() float64) {
	s.rnd = rnd
}

// Dispatch sends an approved order to the portal now
func (s *DispatchService) Dispatch(ctx context.Context, orderID uuid.UUID, actor string) (*DispatchResponse, error) {
	return s.dispatch(ctx, orderID, modeManual, actor, procurement.OriginUser)
}

// Resend restarts delivery of an order whose retries are exhausted
func (s *DispatchService) Resend(ctx context.Context, orderID uuid.UUID, actor string) (*DispatchResponse, error) {
	return s.dispatch(ctx, orderID, modeResend, actor, procurement.OriginUser)
}

// RetryDispatch is the scheduler entry point: the first send after approval or
// a due retry. Orders that moved on are skipped without error.
func (s *DispatchService) RetryDispatch(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.dispatch(ctx, orderID, modeScheduled, "dispatch-scheduler", procurement.OriginScheduler)
	if errors.Is(err, errNothingToDispatch) {
		return nil
	}
	return err
}

var errNothingToDispatch = errors.New("order has nothing to dispatch")

func (s *DispatchService) dispatch(ctx context.Context, orderID uuid.UUID, mode dispatchMode, actor, origin string) (*DispatchResponse, error) {
	attempt, msg, err := s.begin(ctx, orderID, mode, actor, origin)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	receipt, sendErr := s.gateway.Send(ctx, msg)
	elapsed := time.Since(started)

	// bookkeeping must finish even if the caller went away
	return s.complete(context.WithoutCancel(ctx), attempt, receipt, sendErr, elapsed, actor, origin)
}

// begin opens an attempt in status sending under the order's optimistic lock
func (s *DispatchService) begin(ctx context.Context, orderID uuid.UUID, mode dispatchMode, actor, origin string) (*procurement.IntegrationAttempt, *procurement.SignedMessage, error) {
	var (
		attempt *procurement.IntegrationAttempt
		msg     *procurement.SignedMessage
	)
	scope := auditScope{OrderID: orderID, Event: procurement.AuditDispatchStarted, Actor: actor, Origin: origin}
	err := s.mutate(ctx, scope, func(ctx context.Context) error {
		o, err := s.store.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		chainOp, err := s.chainOperation(ctx, o)
		if err != nil {
			return err
		}
		op, restart, err := s.plan(o, mode, chainOp)
		if err != nil {
			return err
		}
		inFlight, err := s.store.Attempts.FindInFlight(ctx, o.ID)
		if err != nil {
			return err
		}
		if inFlight != nil {
			return procurement.ErrDispatchInProgress.
				With("order_id", o.ID.String()).
				With("attempt_id", inFlight.ID.String())
		}

		now := s.clock.Now()
		if err := o.BeginDispatch(restart, now); err != nil {
			return err
		}
		last, err := s.store.Attempts.LastAttemptNumber(ctx, o.ID, op)
		if err != nil {
			return err
		}
		m, err := s.gateway.Sign(procurement.NewOrderSnapshot(o, op, last+1, now))
		if err != nil {
			return err
		}
		a := procurement.NewDispatchAttempt(o.ID, op, last+1, m.Body, m.Signature, now)

		cs := &procurement.Changeset{Order: o, Attempts: []*procurement.IntegrationAttempt{a}}
		cs.AddAudit(procurement.NewAuditEvent(o.ID, procurement.AuditDispatchStarted, actor, origin, now).
			WithStatus(o.Status, o.Status).
			WithFields("integration_status", "dispatch_attempts").
			WithDetail("attempt_id", a.ID.String()).
			WithDetail("operation", string(op)).
			WithDetail("attempt_number", strconv.Itoa(a.AttemptNumber)).
			WithDetail("chain_attempt", strconv.Itoa(o.DispatchAttempts)))
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		attempt, msg = a, m
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if mode != modeScheduled && s.scheduler != nil {
		s.scheduler.Cancel(orderID)
	}
	return attempt, msg, nil
}

// plan checks the integration status against the mode and picks the operation.
// chainOp is the operation of the chain a retry continues.
func (s *DispatchService) plan(o *procurement.Order, mode dispatchMode, chainOp procurement.IntegrationOperation) (procurement.IntegrationOperation, bool, error) {
	if o.Status != procurement.StatusApproved {
		if mode == modeScheduled {
			return "", false, errNothingToDispatch
		}
		return "", false, &procurement.InvalidTransitionError{
			OrderID: o.ID.String(),
			From:    o.Status,
			Trigger: procurement.TriggerMarkSent,
			Reason:  "only approved orders are dispatched",
		}
	}

	op := procurement.OperationSendOrder
	if o.IntegrationStatus == procurement.IntegrationRetryScheduled && chainOp != "" {
		op = chainOp
	}

	switch mode {
	case modeResend:
		return procurement.OperationResend, true, nil
	case modeScheduled:
		switch o.IntegrationStatus {
		case procurement.IntegrationIdle, procurement.IntegrationRetryScheduled:
			return op, false, nil
		}
		return "", false, errNothingToDispatch
	default:
		if o.IntegrationStatus == procurement.IntegrationExhausted {
			return "", false, procurement.ErrIntegrationExhausted.
				With("order_id", o.ID.String()).
				With("attempts", strconv.Itoa(o.DispatchAttempts)).
				With("hint", "use resend to restart delivery")
		}
		return op, false, nil
	}
}

// chainOperation returns the operation of the latest delivery attempt
func (s *DispatchService) chainOperation(ctx context.Context, o *procurement.Order) (procurement.IntegrationOperation, error) {
	if o.IntegrationStatus != procurement.IntegrationRetryScheduled {
		return "", nil
	}
	attempts, err := s.store.Attempts.FindByOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}
	var latest *procurement.IntegrationAttempt
	for _, a := range attempts {
		if a.Operation.IsDelivery() && (latest == nil || a.CreatedAt.After(latest.CreatedAt)) {
			latest = a
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.Operation, nil
}

// complete closes the attempt and moves the order: sent on success, a scheduled
// retry or exhaustion on failure. An order that left approved meanwhile only
// has its in-flight flag cleared.
func (s *DispatchService) complete(ctx context.Context, opened *procurement.IntegrationAttempt, receipt *procurement.PortalReceipt, sendErr error,
	elapsed time.Duration, actor, origin string) (*DispatchResponse, error) {
	var (
		result    *DispatchResponse
		retryAt   *time.Time
		exhausted bool
	)
	var raw []byte
	if receipt != nil {
		raw = receipt.Raw
	}

	scope := auditScope{OrderID: opened.OrderID, Event: procurement.AuditDispatchFailed, Actor: actor, Origin: origin}
	if sendErr == nil {
		scope.Event = procurement.AuditDispatchSucceeded
	}
	err := s.mutate(ctx, scope, func(ctx context.Context) error {
		retryAt, exhausted = nil, false
		o, err := s.store.Orders.FindByID(ctx, opened.OrderID)
		if err != nil {
			return err
		}
		a := *opened
		now := s.clock.Now()
		cs := &procurement.Changeset{Order: o, Attempts: []*procurement.IntegrationAttempt{&a}}
		audit := procurement.NewAuditEvent(o.ID, scope.Event, actor, origin, now).
			WithStatus(o.Status, o.Status).
			WithFields("integration_status").
			WithDetail("attempt_id", a.ID.String()).
			WithDetail("operation", string(a.Operation)).
			WithDetail("attempt_number", strconv.Itoa(a.AttemptNumber)).
			WithDetail("elapsed", elapsed.String())

		switch {
		case sendErr == nil && o.Status == procurement.StatusApproved:
			if err := a.MarkSuccess(raw, receipt.Reference, now); err != nil {
				return err
			}
			transition, err := o.Fire(procurement.TransitionRequest{
				Trigger: procurement.TriggerMarkSent,
				Actor:   actor,
				Origin:  procurement.OriginSystem,
				Attempt: &a,
			}, now)
			if err != nil {
				return err
			}
			cs.AddAudit(audit.WithDetail("portal_reference", receipt.Reference), transition)

		case sendErr == nil:
			if err := a.MarkSuccess(raw, receipt.Reference, now); err != nil {
				return err
			}
			o.DispatchAbandoned(now)
			cs.AddAudit(audit.WithDetail("portal_reference", receipt.Reference).
				WithDetail("note", "order left approved during delivery"))

		case o.Status != procurement.StatusApproved:
			if err := a.MarkError(sendErr.Error(), raw, nil, now); err != nil {
				return err
			}
			o.DispatchAbandoned(now)
			cs.AddAudit(audit.WithDetail("error", sendErr.Error()).
				WithDetail("note", "order left approved during delivery"))

		case s.policy.Exhausted(o.DispatchAttempts):
			exhausted = true
			if err := a.MarkTimeout(sendErr.Error(), raw, now); err != nil {
				return err
			}
			o.DispatchFailed(true, now)
			o.AddDomainEvent(procurement.NewIntegrationExhaustedEvent(o, &a, now))
			audit.Event = procurement.AuditDispatchExhausted
			cs.AddAudit(audit.WithDetail("error", sendErr.Error()).
				WithDetail("chain_attempts", strconv.Itoa(o.DispatchAttempts)))

		default:
			next := now.Add(s.policy.Delay(o.DispatchAttempts, s.rnd))
			retryAt = &next
			if err := a.MarkError(sendErr.Error(), raw, retryAt, now); err != nil {
				return err
			}
			o.DispatchFailed(false, now)
			o.AddDomainEvent(procurement.NewDispatchFailedEvent(&a, now))
			cs.AddAudit(audit.WithDetail("error", sendErr.Error()).
				WithDetail("next_attempt_at", next.Format(time.RFC3339)))
		}

		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		result = &DispatchResponse{
			Attempt:      ToIntegrationAttemptResponse(&a),
			OrderStatus:  string(o.Status),
			OrderVersion: o.Version,
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to complete portal dispatch",
			zap.String("order_id", opened.OrderID.String()),
			zap.String("attempt_id", opened.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordDispatchAttempt(ctx, opened.Operation, procurement.AttemptStatus(result.Attempt.Status), elapsed)
	fields := []zap.Field{
		zap.String("order_id", opened.OrderID.String()),
		zap.String("attempt_id", opened.ID.String()),
		zap.String("operation", string(opened.Operation)),
		zap.Int("attempt_number", opened.AttemptNumber),
	}
	switch {
	case exhausted:
		s.logger.Error("portal dispatch retries exhausted", append(fields, zap.Error(sendErr))...)
		return result, procurement.ErrIntegrationExhausted.
			With("order_id", opened.OrderID.String()).
			With("attempt_id", opened.ID.String())
	case retryAt != nil:
		s.logger.Warn("portal dispatch failed, retry scheduled", append(fields, zap.Time("next_attempt_at", *retryAt), zap.Error(sendErr))...)
		if s.scheduler != nil {
			s.scheduler.Schedule(opened.OrderID, *retryAt)
		}
	case sendErr != nil:
		s.logger.Warn("portal dispatch failed for an order no longer approved", append(fields, zap.Error(sendErr))...)
	default:
		s.logger.Info("order delivered to portal", fields...)
	}
	return result, nil
}

// RecoverPendingRetries re-arms retries after a restart and completes attempts
// that were left sending by a crashed process. It returns how many orders were scheduled.
func (s *DispatchService) RecoverPendingRetries(ctx context.Context, staleAfter time.Duration) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	now := s.clock.Now()
	stale, err := s.store.Attempts.FindStaleInFlight(ctx, now.Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	for _, a := range stale {
		if _, err := s.complete(ctx, a, nil, errInterrupted, 0, "dispatch-recovery", procurement.OriginSystem); err != nil &&
			!errors.Is(err, procurement.ErrIntegrationExhausted) {
			s.logger.Warn("failed to recover interrupted dispatch",
				zap.String("attempt_id", a.ID.String()),
				zap.Error(err),
			)
		}
	}

	pending, err := s.store.Attempts.FindScheduledRetries(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range pending {
		at := now
		if a.NextAttemptAt != nil && a.NextAttemptAt.After(now) {
			at = *a.NextAttemptAt
		}
		s.scheduler.Schedule(a.OrderID, at)
	}
	return len(pending), nil
}
