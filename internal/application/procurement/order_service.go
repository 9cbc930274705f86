package procurement

import (
	"context"
	"sort"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryCanceller stops a pending dispatch retry for an order
type RetryCanceller interface {
	Cancel(orderID uuid.UUID)
}

// OrderService handles purchase order lifecycle operations
type OrderService struct {
	*executor
	approvals *ApprovalService
	retries   RetryCanceller
}

// NewOrderService creates a new OrderService
func NewOrderService(store Store, approvals *ApprovalService, clock shared.Clock, logger *zap.Logger) *OrderService {
	return &OrderService{
		executor:  newExecutor(store, clock, logger),
		approvals: approvals,
	}
}

// SetMetrics sets the metrics recorder
func (s *OrderService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetConflictRetries sets the bounded retry count for concurrency conflicts
func (s *OrderService) SetConflictRetries(n int) {
	if n > 0 {
		s.conflicts = n
	}
}

// SetRetryCanceller sets the dispatch retry scheduler used on cancellation
func (s *OrderService) SetRetryCanceller(c RetryCanceller) {
	s.retries = c
}

// Create validates and stores a new draft order
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	var order *procurement.Order
	err := RetryOnConflict(ctx, s.conflicts, func(ctx context.Context) error {
		now := s.clock.Now()
		seq, err := s.store.Orders.GenerateSequenceNumber(ctx, now)
		if err != nil {
			return err
		}
		order, err = procurement.NewOrder(procurement.NewOrderInput{
			SequenceNumber:        seq,
			SupplierRef:           req.SupplierRef,
			SupplierName:          req.SupplierName,
			RequisitionRef:        req.RequisitionRef,
			QuotationRef:          req.QuotationRef,
			Type:                  procurement.OrderType(req.Type),
			Currency:              req.Currency,
			RequestedDeliveryDate: req.RequestedDeliveryDate,
			PaymentTerms:          req.PaymentTerms,
			Notes:                 req.Notes,
			CostCenter:            req.CostCenter,
			CreatedBy:             req.CreatedBy,
			Items:                 toItemSpecs(req.Items),
		}, now)
		if err != nil {
			return err
		}
		cs := &procurement.Changeset{Order: order}
		cs.AddAudit(procurement.NewAuditEvent(order.ID, procurement.AuditOrderCreated, req.CreatedBy, procurement.OriginUser, now).
			WithStatus("", order.Status).
			WithDetail("sequence_number", order.SequenceNumber).
			WithDetail("total_amount", order.TotalAmount.StringFixed(2)))
		// a duplicate sequence number loses the race like a stale version
		return s.commit(ctx, cs)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("purchase order created",
		zap.String("order_id", order.ID.String()),
		zap.String("sequence_number", order.SequenceNumber),
	)
	resp := ToOrderResponse(order)
	return &resp, nil
}

// Get retrieves an order by ID
func (s *OrderService) Get(ctx context.Context, id uuid.UUID) (*OrderResponse, error) {
	order, err := s.store.Orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(order)
	return &resp, nil
}

// List retrieves orders with filtering and pagination
func (s *OrderService) List(ctx context.Context, filter OrderListFilter) (*shared.Paginated[OrderListItemResponse], error) {
	f := procurement.OrderFilter{
		Filter:          shared.DefaultFilter(),
		Status:          procurement.OrderStatus(filter.Status),
		SupplierRef:     filter.SupplierRef,
		CostCenter:      filter.CostCenter,
		IncludeArchived: filter.IncludeArchived,
	}
	if filter.Page > 0 {
		f.Page = filter.Page
	}
	if filter.PageSize > 0 {
		f.PageSize = filter.PageSize
	}
	if filter.OrderBy != "" {
		f.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		f.OrderDir = filter.OrderDir
	}

	orders, total, err := s.store.Orders.FindAll(ctx, f)
	if err != nil {
		return nil, err
	}
	items := make([]OrderListItemResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, ToOrderListItemResponse(o))
	}
	page := shared.NewPaginated(items, total, f.Page, f.Limit())
	return &page, nil
}

// UpdateItems replaces the items of a draft order
func (s *OrderService) UpdateItems(ctx context.Context, id uuid.UUID, req UpdateItemsRequest, actor string) (*OrderResponse, error) {
	return s.update(ctx, id, req.Version, procurement.AuditOrderItemsUpdated, actor, func(o *procurement.Order, cs *procurement.Changeset) error {
		audit, err := o.ReplaceItems(toItemSpecs(req.Items), actor, s.clock.Now())
		cs.AddAudit(audit)
		return err
	})
}

// Submit moves a draft into awaiting_approval and materializes its approval steps
// in the same unit of work. A nil policy uses the configured default.
func (s *OrderService) Submit(ctx context.Context, id uuid.UUID, req SubmitOrderRequest, actor string) (*OrderResponse, error) {
	event := "order." + string(procurement.TriggerSubmit)
	return s.update(ctx, id, req.Version, event, actor, func(o *procurement.Order, cs *procurement.Changeset) error {
		var override *procurement.ApprovalPolicy
		if req.Policy != nil {
			p := req.Policy.ToPolicy()
			override = &p
		}
		policy, err := s.approvals.policyFor(ctx, o, override)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		audit, err := o.Fire(procurement.TransitionRequest{Trigger: procurement.TriggerSubmit, Actor: actor, Origin: procurement.OriginUser}, now)
		if err != nil {
			return err
		}
		cs.AddAudit(audit)
		return s.approvals.requestApproval(o, policy, actor, cs)
	})
}

// Cancel cancels a non-terminal order and drops any pending dispatch retry
func (s *OrderService) Cancel(ctx context.Context, id uuid.UUID, req CancelOrderRequest, actor string) (*OrderResponse, error) {
	resp, err := s.fireUser(ctx, id, req.Version, procurement.TransitionRequest{
		Trigger: procurement.TriggerCancel,
		Actor:   actor,
		Origin:  procurement.OriginUser,
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, err
	}
	if s.retries != nil {
		s.retries.Cancel(id)
	}
	return resp, nil
}

// Finalize closes a confirmed or change-requested order
func (s *OrderService) Finalize(ctx context.Context, id uuid.UUID, req VersionedRequest, actor string) (*OrderResponse, error) {
	return s.fireUser(ctx, id, req.Version, procurement.TransitionRequest{
		Trigger: procurement.TriggerFinalize,
		Actor:   actor,
		Origin:  procurement.OriginUser,
	})
}

// AcceptChanges adopts the supplier's proposed item values and confirms the order
func (s *OrderService) AcceptChanges(ctx context.Context, id uuid.UUID, req VersionedRequest, actor string) (*OrderResponse, error) {
	event := "order." + string(procurement.TriggerAcceptChanges)
	return s.update(ctx, id, req.Version, event, actor, func(o *procurement.Order, cs *procurement.Changeset) error {
		audit, err := o.AcceptChanges(actor, s.clock.Now())
		cs.AddAudit(audit)
		return err
	})
}

// Transition fires a user-facing trigger. System-driven triggers are refused.
func (s *OrderService) Transition(ctx context.Context, id uuid.UUID, version int, trigger procurement.Trigger, reason, actor string) (*OrderResponse, error) {
	switch trigger {
	case procurement.TriggerSubmit:
		return s.Submit(ctx, id, SubmitOrderRequest{Version: version}, actor)
	case procurement.TriggerAcceptChanges:
		return s.AcceptChanges(ctx, id, VersionedRequest{Version: version}, actor)
	case procurement.TriggerCancel:
		return s.Cancel(ctx, id, CancelOrderRequest{Version: version, Reason: reason}, actor)
	}
	return s.fireUser(ctx, id, version, procurement.TransitionRequest{
		Trigger: trigger,
		Actor:   actor,
		Origin:  procurement.OriginUser,
		Reason:  reason,
	})
}

// Archive soft-deletes an order in a terminal status
func (s *OrderService) Archive(ctx context.Context, id uuid.UUID, req VersionedRequest, actor string) error {
	_, err := s.update(ctx, id, req.Version, procurement.AuditOrderArchived, actor, func(o *procurement.Order, cs *procurement.Changeset) error {
		audit, err := o.Archive(actor, s.clock.Now())
		cs.AddAudit(audit)
		return err
	})
	return err
}

// AuditTrail returns the ledger rows of an order, oldest first
func (s *OrderService) AuditTrail(ctx context.Context, id uuid.UUID) ([]AuditEventResponse, error) {
	events, err := s.store.Ledger.ListByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	out := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, ToAuditEventResponse(e))
	}
	return out, nil
}

// Attempts returns the portal integration history of an order
func (s *OrderService) Attempts(ctx context.Context, id uuid.UUID) ([]IntegrationAttemptResponse, error) {
	if _, err := s.store.Orders.FindByID(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := s.store.Attempts.FindByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]IntegrationAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, ToIntegrationAttemptResponse(a))
	}
	return out, nil
}

// ApprovalSteps returns the approval steps of an order ordered by level
func (s *OrderService) ApprovalSteps(ctx context.Context, id uuid.UUID) ([]ApprovalStepResponse, error) {
	if _, err := s.store.Orders.FindByID(ctx, id); err != nil {
		return nil, err
	}
	steps, err := s.store.Steps.FindByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	plan := procurement.NewApprovalPlan(id, steps)
	out := make([]ApprovalStepResponse, 0, len(plan.Steps))
	for _, st := range plan.Steps {
		out = append(out, ToApprovalStepResponse(st))
	}
	return out, nil
}

func (s *OrderService) fireUser(ctx context.Context, id uuid.UUID, version int, req procurement.TransitionRequest) (*OrderResponse, error) {
	event := "order." + string(req.Trigger)
	return s.update(ctx, id, version, event, req.Actor, func(o *procurement.Order, cs *procurement.Changeset) error {
		if req.Trigger.IsSystemDriven() {
			return &procurement.InvalidTransitionError{
				OrderID: o.ID.String(),
				From:    o.Status,
				Trigger: req.Trigger,
				Reason:  "trigger is driven by the engine, not by users",
			}
		}
		audit, err := o.Fire(req, s.clock.Now())
		cs.AddAudit(audit)
		return err
	})
}

// update loads the order, checks the caller's version, applies fn and commits.
// A stale caller version fails at once; a commit race lost after a matching
// read is retried.
func (s *OrderService) update(ctx context.Context, id uuid.UUID, version int, event, actor string,
	fn func(o *procurement.Order, cs *procurement.Changeset) error) (*OrderResponse, error) {
	var order *procurement.Order
	scope := auditScope{OrderID: id, Event: event, Actor: actor, Origin: procurement.OriginUser}
	err := s.mutate(ctx, scope, func(ctx context.Context) error {
		o, err := s.store.Orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := o.CheckVersion(version); err != nil {
			return finalConflict{err}
		}
		cs := &procurement.Changeset{Order: o}
		if err := fn(o, cs); err != nil {
			return err
		}
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(order)
	return &resp, nil
}
