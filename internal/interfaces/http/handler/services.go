package handler

import (
	"context"

	appevent "github.com/erp/procurement/internal/application/event"
	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
)

// OrderService is the order surface the handlers drive
type OrderService interface {
	Create(ctx context.Context, req appprocurement.CreateOrderRequest) (*appprocurement.OrderResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*appprocurement.OrderResponse, error)
	List(ctx context.Context, filter appprocurement.OrderListFilter) (*shared.Paginated[appprocurement.OrderListItemResponse], error)
	UpdateItems(ctx context.Context, id uuid.UUID, req appprocurement.UpdateItemsRequest, actor string) (*appprocurement.OrderResponse, error)
	Submit(ctx context.Context, id uuid.UUID, req appprocurement.SubmitOrderRequest, actor string) (*appprocurement.OrderResponse, error)
	Cancel(ctx context.Context, id uuid.UUID, req appprocurement.CancelOrderRequest, actor string) (*appprocurement.OrderResponse, error)
	AcceptChanges(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) (*appprocurement.OrderResponse, error)
	Finalize(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) (*appprocurement.OrderResponse, error)
	Archive(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) error
	AuditTrail(ctx context.Context, id uuid.UUID) ([]appprocurement.AuditEventResponse, error)
	Attempts(ctx context.Context, id uuid.UUID) ([]appprocurement.IntegrationAttemptResponse, error)
	ApprovalSteps(ctx context.Context, id uuid.UUID) ([]appprocurement.ApprovalStepResponse, error)
}

// ApprovalService resolves and delegates approval steps
type ApprovalService interface {
	ResolveStep(ctx context.Context, stepID uuid.UUID, decision procurement.ApprovalDecision, actor, comments, reason string) (*appprocurement.StepDecisionResponse, error)
	Delegate(ctx context.Context, stepID uuid.UUID, actor, toActor, reason string) (*appprocurement.ApprovalStepResponse, error)
}

// DispatchService sends orders to the supplier portal on demand
type DispatchService interface {
	Dispatch(ctx context.Context, orderID uuid.UUID, actor string) (*appprocurement.DispatchResponse, error)
	Resend(ctx context.Context, orderID uuid.UUID, actor string) (*appprocurement.DispatchResponse, error)
}

// PortalReceiver applies inbound supplier messages
type PortalReceiver interface {
	Receive(ctx context.Context, msg appprocurement.InboundMessage) (*appprocurement.ReceiveResult, error)
}

// OutboxAdmin inspects and replays dead notification entries
type OutboxAdmin interface {
	Stats(ctx context.Context) (*appevent.OutboxStatsDTO, error)
	DeadLetters(ctx context.Context, filter appevent.OutboxFilter) (*shared.Paginated[appevent.OutboxEntryDTO], error)
	RetryDeadEntry(ctx context.Context, id uuid.UUID) (*appevent.OutboxEntryDTO, error)
	RetryAllDeadEntries(ctx context.Context) (int64, error)
}

var (
	_ OrderService    = (*appprocurement.OrderService)(nil)
	_ ApprovalService = (*appprocurement.ApprovalService)(nil)
	_ DispatchService = (*appprocurement.DispatchService)(nil)
	_ PortalReceiver  = (*appprocurement.ReceiverService)(nil)
	_ OutboxAdmin     = (*appevent.OutboxService)(nil)
)
