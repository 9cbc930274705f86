package procurement

import (
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ==================== Order DTOs ====================

// CreateOrderRequest represents a request to create a purchase order
type CreateOrderRequest struct {
	SupplierRef           string           `json:"supplier_ref" binding:"required,min=1,max=64"`
	SupplierName          string           `json:"supplier_name" binding:"max=200"`
	RequisitionRef        string           `json:"requisition_ref" binding:"max=64"`
	QuotationRef          string           `json:"quotation_ref" binding:"max=64"`
	Type                  string           `json:"type" binding:"required,oneof=material service mixed"`
	Currency              string           `json:"currency" binding:"required,iso_currency"`
	RequestedDeliveryDate *time.Time       `json:"requested_delivery_date"`
	PaymentTerms          string           `json:"payment_terms" binding:"max=200"`
	Notes                 string           `json:"notes" binding:"max=2000"`
	CostCenter            string           `json:"cost_center" binding:"max=64"`
	Items                 []OrderItemInput `json:"items" binding:"required,min=1,dive"`
	CreatedBy             string           `json:"-"`
}

// OrderItemInput represents one item of a create or update request
type OrderItemInput struct {
	Description      string          `json:"description" binding:"required,min=1,max=500"`
	Specification    string          `json:"specification" binding:"max=2000"`
	Quantity         decimal.Decimal `json:"quantity" binding:"decimal_gt0"`
	Unit             string          `json:"unit" binding:"required,min=1,max=20"`
	UnitPrice        decimal.Decimal `json:"unit_price" binding:"decimal_gte0"`
	DeliveryDate     *time.Time      `json:"delivery_date"`
	DeliveryLocation string          `json:"delivery_location" binding:"max=200"`
}

// UpdateItemsRequest replaces the items of a draft order
type UpdateItemsRequest struct {
	Version int              `json:"version" binding:"required,min=1"`
	Items   []OrderItemInput `json:"items" binding:"required,min=1,dive"`
}

// VersionedRequest carries the version the caller last read
type VersionedRequest struct {
	Version int `json:"version" form:"version" binding:"required,min=1"`
}

// CancelOrderRequest represents a request to cancel an order
type CancelOrderRequest struct {
	Version int    `json:"version" binding:"required,min=1"`
	Reason  string `json:"reason" binding:"required,min=1,max=500"`
}

// SubmitOrderRequest submits a draft for approval. Policy overrides the configured default.
type SubmitOrderRequest struct {
	Version int                  `json:"version" binding:"required,min=1"`
	Policy  *ApprovalPolicyInput `json:"policy"`
}

// ApprovalPolicyInput is an externally supplied approval policy
type ApprovalPolicyInput struct {
	Levels []PolicyLevelInput `json:"levels" binding:"required,min=1,dive"`
}

// PolicyLevelInput is one level of an approval policy
type PolicyLevelInput struct {
	Level            int      `json:"level" binding:"required,min=1"`
	Mode             string   `json:"mode" binding:"required,oneof=individual committee parallel"`
	Approvers        []string `json:"approvers" binding:"required,min=1"`
	ExpiresInMinutes int      `json:"expires_in_minutes" binding:"min=0"`
}

// ToPolicy converts the input into a domain policy
func (in ApprovalPolicyInput) ToPolicy() procurement.ApprovalPolicy {
	levels := make([]procurement.PolicyLevel, 0, len(in.Levels))
	for _, l := range in.Levels {
		levels = append(levels, procurement.PolicyLevel{
			Level:     l.Level,
			Mode:      procurement.ApprovalMode(l.Mode),
			Approvers: l.Approvers,
			ExpiresIn: time.Duration(l.ExpiresInMinutes) * time.Minute,
		})
	}
	return procurement.ApprovalPolicy{Levels: levels}
}

// OrderListFilter represents filter options for order lists
type OrderListFilter struct {
	Status          string `form:"status" binding:"omitempty,oneof=draft awaiting_approval approved sent viewed questioned confirmed change_requested cancelled finalized rejected"`
	SupplierRef     string `form:"supplier_ref"`
	CostCenter      string `form:"cost_center"`
	IncludeArchived bool   `form:"include_archived"`
	Page            int    `form:"page" binding:"omitempty,min=1"`
	PageSize        int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy         string `form:"order_by"`
	OrderDir        string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID                    uuid.UUID           `json:"id"`
	SequenceNumber        string              `json:"sequence_number"`
	SupplierRef           string              `json:"supplier_ref"`
	SupplierName          string              `json:"supplier_name,omitempty"`
	RequisitionRef        string              `json:"requisition_ref,omitempty"`
	QuotationRef          string              `json:"quotation_ref,omitempty"`
	Type                  string              `json:"type"`
	Status                string              `json:"status"`
	Currency              string              `json:"currency"`
	TotalAmount           decimal.Decimal     `json:"total_amount"`
	RequestedDeliveryDate *time.Time          `json:"requested_delivery_date,omitempty"`
	PaymentTerms          string              `json:"payment_terms,omitempty"`
	Notes                 string              `json:"notes,omitempty"`
	CostCenter            string              `json:"cost_center,omitempty"`
	CreatedBy             string              `json:"created_by"`
	ApprovedBy            string              `json:"approved_by,omitempty"`
	CorrelationID         string              `json:"correlation_id"`
	PortalReference       string              `json:"portal_reference,omitempty"`
	IntegrationStatus     string              `json:"integration_status"`
	DispatchAttempts      int                 `json:"dispatch_attempts"`
	CancelReason          string              `json:"cancel_reason,omitempty"`
	Version               int                 `json:"version"`
	PermittedTriggers     []string            `json:"permitted_triggers"`
	Items                 []OrderItemResponse `json:"items"`
	SubmittedAt           *time.Time          `json:"submitted_at,omitempty"`
	ApprovedAt            *time.Time          `json:"approved_at,omitempty"`
	SentAt                *time.Time          `json:"sent_at,omitempty"`
	ConfirmedAt           *time.Time          `json:"confirmed_at,omitempty"`
	ClosedAt              *time.Time          `json:"closed_at,omitempty"`
	ArchivedAt            *time.Time          `json:"archived_at,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// OrderItemResponse represents an order item in API responses
type OrderItemResponse struct {
	ID                   uuid.UUID        `json:"id"`
	Sequence             int              `json:"sequence"`
	Description          string           `json:"description"`
	Specification        string           `json:"specification,omitempty"`
	Quantity             decimal.Decimal  `json:"quantity"`
	Unit                 string           `json:"unit"`
	UnitPrice            decimal.Decimal  `json:"unit_price"`
	LineTotal            decimal.Decimal  `json:"line_total"`
	DeliveryDate         *time.Time       `json:"delivery_date,omitempty"`
	DeliveryLocation     string           `json:"delivery_location,omitempty"`
	ConfirmationStatus   string           `json:"confirmation_status"`
	ProposedQuantity     *decimal.Decimal `json:"proposed_quantity,omitempty"`
	ProposedUnitPrice    *decimal.Decimal `json:"proposed_unit_price,omitempty"`
	ProposedDeliveryDate *time.Time       `json:"proposed_delivery_date,omitempty"`
	SupplierRemarks      string           `json:"supplier_remarks,omitempty"`
}

// OrderListItemResponse is the compact list representation of an order
type OrderListItemResponse struct {
	ID                uuid.UUID       `json:"id"`
	SequenceNumber    string          `json:"sequence_number"`
	SupplierRef       string          `json:"supplier_ref"`
	SupplierName      string          `json:"supplier_name,omitempty"`
	Status            string          `json:"status"`
	IntegrationStatus string          `json:"integration_status"`
	Currency          string          `json:"currency"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	ItemCount         int             `json:"item_count"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ToOrderResponse converts a domain order to a response
func ToOrderResponse(o *procurement.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ID:                   it.ID,
			Sequence:             it.Sequence,
			Description:          it.Description,
			Specification:        it.Specification,
			Quantity:             it.Quantity,
			Unit:                 it.Unit,
			UnitPrice:            it.UnitPrice,
			LineTotal:            it.LineTotal,
			DeliveryDate:         it.DeliveryDate,
			DeliveryLocation:     it.DeliveryLocation,
			ConfirmationStatus:   string(it.ConfirmationStatus),
			ProposedQuantity:     it.ProposedQuantity,
			ProposedUnitPrice:    it.ProposedUnitPrice,
			ProposedDeliveryDate: it.ProposedDeliveryDate,
			SupplierRemarks:      it.SupplierRemarks,
		})
	}
	triggers := make([]string, 0)
	for _, t := range procurement.OrderStateMachine.PermittedTriggers(o.Status) {
		if !t.IsSystemDriven() {
			triggers = append(triggers, string(t))
		}
	}
	return OrderResponse{
		ID:                    o.ID,
		SequenceNumber:        o.SequenceNumber,
		SupplierRef:           o.SupplierRef,
		SupplierName:          o.SupplierName,
		RequisitionRef:        o.RequisitionRef,
		QuotationRef:          o.QuotationRef,
		Type:                  string(o.Type),
		Status:                string(o.Status),
		Currency:              o.Currency,
		TotalAmount:           o.TotalAmount,
		RequestedDeliveryDate: o.RequestedDeliveryDate,
		PaymentTerms:          o.PaymentTerms,
		Notes:                 o.Notes,
		CostCenter:            o.CostCenter,
		CreatedBy:             o.CreatedBy,
		ApprovedBy:            o.ApprovedBy,
		CorrelationID:         o.CorrelationID,
		PortalReference:       o.PortalReference,
		IntegrationStatus:     string(o.IntegrationStatus),
		DispatchAttempts:      o.DispatchAttempts,
		CancelReason:          o.CancelReason,
		Version:               o.Version,
		PermittedTriggers:     triggers,
		Items:                 items,
		SubmittedAt:           o.SubmittedAt,
		ApprovedAt:            o.ApprovedAt,
		SentAt:                o.SentAt,
		ConfirmedAt:           o.ConfirmedAt,
		ClosedAt:              o.ClosedAt,
		ArchivedAt:            o.DeletedAt,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

// ToOrderListItemResponse converts a domain order to a list item
func ToOrderListItemResponse(o *procurement.Order) OrderListItemResponse {
	return OrderListItemResponse{
		ID:                o.ID,
		SequenceNumber:    o.SequenceNumber,
		SupplierRef:       o.SupplierRef,
		SupplierName:      o.SupplierName,
		Status:            string(o.Status),
		IntegrationStatus: string(o.IntegrationStatus),
		Currency:          o.Currency,
		TotalAmount:       o.TotalAmount,
		ItemCount:         len(o.Items),
		Version:           o.Version,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func toItemSpecs(inputs []OrderItemInput) []procurement.ItemSpec {
	specs := make([]procurement.ItemSpec, 0, len(inputs))
	for _, in := range inputs {
		specs = append(specs, procurement.ItemSpec{
			Description:      in.Description,
			Specification:    in.Specification,
			Quantity:         in.Quantity,
			Unit:             in.Unit,
			UnitPrice:        in.UnitPrice,
			DeliveryDate:     in.DeliveryDate,
			DeliveryLocation: in.DeliveryLocation,
		})
	}
	return specs
}

// ==================== Approval DTOs ====================

// StepDecisionRequest is an approver's decision on one step
type StepDecisionRequest struct {
	Decision   string `json:"decision" binding:"required,oneof=approve reject delegate"`
	Comments   string `json:"comments" binding:"max=2000"`
	Reason     string `json:"reason" binding:"max=500"`
	DelegateTo string `json:"delegate_to" binding:"required_if=Decision delegate,max=200"`
}

// ApprovalStepResponse represents an approval step in API responses
type ApprovalStepResponse struct {
	ID               uuid.UUID  `json:"id"`
	OrderID          uuid.UUID  `json:"order_id"`
	Level            int        `json:"level"`
	Mode             string     `json:"mode"`
	Approver         string     `json:"approver"`
	OriginalApprover string     `json:"original_approver"`
	Status           string     `json:"status"`
	Active           bool       `json:"active"`
	RequestedAt      *time.Time `json:"requested_at,omitempty"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Comments         string     `json:"comments,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	DelegatedFrom    string     `json:"delegated_from,omitempty"`
	DelegationReason string     `json:"delegation_reason,omitempty"`
	DelegatedAt      *time.Time `json:"delegated_at,omitempty"`
}

// ToApprovalStepResponse converts a domain step to a response
func ToApprovalStepResponse(s *procurement.ApprovalStep) ApprovalStepResponse {
	return ApprovalStepResponse{
		ID:               s.ID,
		OrderID:          s.OrderID,
		Level:            s.Level,
		Mode:             string(s.Mode),
		Approver:         s.Approver,
		OriginalApprover: s.OriginalApprover,
		Status:           string(s.Status),
		Active:           s.IsActive(),
		RequestedAt:      s.RequestedAt,
		RespondedAt:      s.RespondedAt,
		ExpiresAt:        s.ExpiresAt,
		Comments:         s.Comments,
		RejectionReason:  s.RejectionReason,
		DelegatedFrom:    s.DelegatedFrom,
		DelegationReason: s.DelegationReason,
		DelegatedAt:      s.DelegatedAt,
	}
}

// StepDecisionResponse reports a resolved decision and the resulting order state
type StepDecisionResponse struct {
	Step         ApprovalStepResponse `json:"step"`
	Outcome      string               `json:"outcome,omitempty"`
	OrderStatus  string               `json:"order_status"`
	OrderVersion int                  `json:"order_version"`
}

// ==================== Integration DTOs ====================

// IntegrationAttemptResponse represents a portal attempt in API responses
type IntegrationAttemptResponse struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	Operation       string     `json:"operation"`
	AttemptNumber   int        `json:"attempt_number"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	PortalReference string     `json:"portal_reference,omitempty"`
	OriginIP        string     `json:"origin_ip,omitempty"`
	SignatureDigest string     `json:"signature_digest,omitempty"`
	MessageID       string     `json:"message_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ToIntegrationAttemptResponse converts a domain attempt to a response
func ToIntegrationAttemptResponse(a *procurement.IntegrationAttempt) IntegrationAttemptResponse {
	return IntegrationAttemptResponse{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Operation:       string(a.Operation),
		AttemptNumber:   a.AttemptNumber,
		Status:          string(a.Status),
		ErrorMessage:    a.ErrorMessage,
		NextAttemptAt:   a.NextAttemptAt,
		PortalReference: a.PortalReference,
		OriginIP:        a.OriginIP,
		SignatureDigest: a.SignatureDigest,
		MessageID:       a.MessageID,
		StartedAt:       a.StartedAt,
		FinishedAt:      a.FinishedAt,
		CreatedAt:       a.CreatedAt,
	}
}

// DispatchResponse reports the outcome of a dispatch request
type DispatchResponse struct {
	Attempt      IntegrationAttemptResponse `json:"attempt"`
	OrderStatus  string                     `json:"order_status"`
	OrderVersion int                        `json:"order_version"`
}

// InboundMessage is a raw inbound portal message with its transport metadata
type InboundMessage struct {
	SupplierRef   string
	Signature     string
	Timestamp     string
	MessageID     string
	CorrelationID string
	OriginIP      string
	Body          []byte
}

// ReceiveResult is the acknowledgment for an inbound message
type ReceiveResult struct {
	// Body is the encoded acknowledgment, identical for replays
	Body      []byte
	Duplicate bool
}

// ==================== Audit DTOs ====================

// AuditEventResponse represents a ledger row in API responses
type AuditEventResponse struct {
	ID            uuid.UUID         `json:"id"`
	OrderID       uuid.UUID         `json:"order_id"`
	Event         string            `json:"event"`
	FromStatus    string            `json:"from_status,omitempty"`
	ToStatus      string            `json:"to_status,omitempty"`
	ChangedFields []string          `json:"changed_fields,omitempty"`
	Actor         string            `json:"actor"`
	Origin        string            `json:"origin"`
	Outcome       string            `json:"outcome"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// ToAuditEventResponse converts a ledger row to a response
func ToAuditEventResponse(e *procurement.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:            e.ID,
		OrderID:       e.OrderID,
		Event:         e.Event,
		FromStatus:    string(e.FromStatus),
		ToStatus:      string(e.ToStatus),
		ChangedFields: e.ChangedFields,
		Actor:         e.Actor,
		Origin:        e.Origin,
		Outcome:       string(e.Outcome),
		ErrorCode:     e.ErrorCode,
		Details:       e.Details,
		OccurredAt:    e.OccurredAt,
	}
}
