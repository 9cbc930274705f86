package models

import (
	"encoding/json"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PurchaseOrderModel is the persistence model for the Order aggregate root.
// DeletedAt marks archived orders; it is handled explicitly rather than by
// gorm soft delete because listings can opt in to archived rows.
type PurchaseOrderModel struct {
	AggregateModel
	SequenceNumber        string                        `gorm:"type:varchar(32);not null;uniqueIndex"`
	SupplierRef           string                        `gorm:"type:varchar(100);not null;index"`
	SupplierName          string                        `gorm:"type:varchar(200)"`
	RequisitionRef        string                        `gorm:"type:varchar(100)"`
	QuotationRef          string                        `gorm:"type:varchar(100)"`
	Type                  procurement.OrderType         `gorm:"type:varchar(20);not null"`
	Status                procurement.OrderStatus       `gorm:"type:varchar(30);not null;index"`
	Currency              string                        `gorm:"type:varchar(3);not null"`
	TotalAmount           decimal.Decimal               `gorm:"type:decimal(18,4);not null"`
	RequestedDeliveryDate *time.Time                    `gorm:"type:date"`
	PaymentTerms          string                        `gorm:"type:varchar(200)"`
	Notes                 string                        `gorm:"type:text"`
	CostCenter            string                        `gorm:"type:varchar(100);index"`
	CreatedBy             string                        `gorm:"type:varchar(100);not null"`
	ApprovedBy            string                        `gorm:"type:varchar(100)"`
	CorrelationID         string                        `gorm:"type:varchar(64);index"`
	PortalReference       string                        `gorm:"type:varchar(100)"`
	IntegrationStatus     procurement.IntegrationStatus `gorm:"type:varchar(30);not null;index"`
	DispatchAttempts      int                           `gorm:"not null;default:0"`
	CancelReason          string                        `gorm:"type:varchar(500)"`
	SubmittedAt           *time.Time
	ApprovedAt            *time.Time
	SentAt                *time.Time
	ConfirmedAt           *time.Time
	ClosedAt              *time.Time
	DeletedAt             *time.Time               `gorm:"index"`
	Items                 []PurchaseOrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName returns the table name for GORM
func (PurchaseOrderModel) TableName() string {
	return "purchase_orders"
}

// ToDomain converts the model to an Order marked as persisted at its stored version
func (m *PurchaseOrderModel) ToDomain() *procurement.Order {
	o := &procurement.Order{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: m.BaseModel.ToDomain(),
			Version:    m.Version,
		},
		SequenceNumber:        m.SequenceNumber,
		SupplierRef:           m.SupplierRef,
		SupplierName:          m.SupplierName,
		RequisitionRef:        m.RequisitionRef,
		QuotationRef:          m.QuotationRef,
		Type:                  m.Type,
		Status:                m.Status,
		Currency:              m.Currency,
		TotalAmount:           m.TotalAmount,
		RequestedDeliveryDate: m.RequestedDeliveryDate,
		PaymentTerms:          m.PaymentTerms,
		Notes:                 m.Notes,
		CostCenter:            m.CostCenter,
		CreatedBy:             m.CreatedBy,
		ApprovedBy:            m.ApprovedBy,
		CorrelationID:         m.CorrelationID,
		PortalReference:       m.PortalReference,
		IntegrationStatus:     m.IntegrationStatus,
		DispatchAttempts:      m.DispatchAttempts,
		CancelReason:          m.CancelReason,
		SubmittedAt:           m.SubmittedAt,
		ApprovedAt:            m.ApprovedAt,
		SentAt:                m.SentAt,
		ConfirmedAt:           m.ConfirmedAt,
		ClosedAt:              m.ClosedAt,
		DeletedAt:             m.DeletedAt,
		Items:                 make([]procurement.OrderItem, len(m.Items)),
	}
	for i := range m.Items {
		o.Items[i] = m.Items[i].ToDomain()
	}
	o.MarkPersisted()
	return o
}

// PurchaseOrderModelFromDomain converts an Order to its model, items included
func PurchaseOrderModelFromDomain(o *procurement.Order) *PurchaseOrderModel {
	m := &PurchaseOrderModel{
		SequenceNumber:        o.SequenceNumber,
		SupplierRef:           o.SupplierRef,
		SupplierName:          o.SupplierName,
		RequisitionRef:        o.RequisitionRef,
		QuotationRef:          o.QuotationRef,
		Type:                  o.Type,
		Status:                o.Status,
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
		IntegrationStatus:     o.IntegrationStatus,
		DispatchAttempts:      o.DispatchAttempts,
		CancelReason:          o.CancelReason,
		SubmittedAt:           o.SubmittedAt,
		ApprovedAt:            o.ApprovedAt,
		SentAt:                o.SentAt,
		ConfirmedAt:           o.ConfirmedAt,
		ClosedAt:              o.ClosedAt,
		DeletedAt:             o.DeletedAt,
		Items:                 make([]PurchaseOrderItemModel, len(o.Items)),
	}
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	for i := range o.Items {
		m.Items[i] = *PurchaseOrderItemModelFromDomain(&o.Items[i])
	}
	return m
}

// PurchaseOrderItemModel is the persistence model for an order line
type PurchaseOrderItemModel struct {
	ID                    uuid.UUID                          `gorm:"type:uuid;primaryKey"`
	OrderID               uuid.UUID                          `gorm:"type:uuid;not null;index"`
	Sequence              int                                `gorm:"not null"`
	Description           string                             `gorm:"type:varchar(500);not null"`
	Specification         string                             `gorm:"type:text"`
	Quantity              decimal.Decimal                    `gorm:"type:decimal(18,4);not null"`
	Unit                  string                             `gorm:"type:varchar(20);not null"`
	UnitPrice             decimal.Decimal                    `gorm:"type:decimal(18,4);not null"`
	LineTotal             decimal.Decimal                    `gorm:"type:decimal(18,4);not null"`
	DeliveryDate          *time.Time                         `gorm:"type:date"`
	DeliveryLocation      string                             `gorm:"type:varchar(200)"`
	ConfirmationStatus    procurement.ItemConfirmationStatus `gorm:"type:varchar(20);not null"`
	ProposedQuantity      *decimal.Decimal                   `gorm:"type:decimal(18,4)"`
	ProposedUnitPrice     *decimal.Decimal                   `gorm:"type:decimal(18,4)"`
	ProposedDeliveryDate  *time.Time                         `gorm:"type:date"`
	SupplierRemarks       string                             `gorm:"type:text"`
	ConfirmationUpdatedAt *time.Time
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PurchaseOrderItemModel) TableName() string {
	return "purchase_order_items"
}

// ToDomain converts the model to an OrderItem
func (m *PurchaseOrderItemModel) ToDomain() procurement.OrderItem {
	return procurement.OrderItem{
		ID:                    m.ID,
		OrderID:               m.OrderID,
		Sequence:              m.Sequence,
		Description:           m.Description,
		Specification:         m.Specification,
		Quantity:              m.Quantity,
		Unit:                  m.Unit,
		UnitPrice:             m.UnitPrice,
		LineTotal:             m.LineTotal,
		DeliveryDate:          m.DeliveryDate,
		DeliveryLocation:      m.DeliveryLocation,
		ConfirmationStatus:    m.ConfirmationStatus,
		ProposedQuantity:      m.ProposedQuantity,
		ProposedUnitPrice:     m.ProposedUnitPrice,
		ProposedDeliveryDate:  m.ProposedDeliveryDate,
		SupplierRemarks:       m.SupplierRemarks,
		ConfirmationUpdatedAt: m.ConfirmationUpdatedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// PurchaseOrderItemModelFromDomain converts an OrderItem to its model
func PurchaseOrderItemModelFromDomain(it *procurement.OrderItem) *PurchaseOrderItemModel {
	return &PurchaseOrderItemModel{
		ID:                    it.ID,
		OrderID:               it.OrderID,
		Sequence:              it.Sequence,
		Description:           it.Description,
		Specification:         it.Specification,
		Quantity:              it.Quantity,
		Unit:                  it.Unit,
		UnitPrice:             it.UnitPrice,
		LineTotal:             it.LineTotal,
		DeliveryDate:          it.DeliveryDate,
		DeliveryLocation:      it.DeliveryLocation,
		ConfirmationStatus:    it.ConfirmationStatus,
		ProposedQuantity:      it.ProposedQuantity,
		ProposedUnitPrice:     it.ProposedUnitPrice,
		ProposedDeliveryDate:  it.ProposedDeliveryDate,
		SupplierRemarks:       it.SupplierRemarks,
		ConfirmationUpdatedAt: it.ConfirmationUpdatedAt,
		CreatedAt:             it.CreatedAt,
		UpdatedAt:             it.UpdatedAt,
	}
}

// ApprovalStepModel is the persistence model for an approval step
type ApprovalStepModel struct {
	ID               uuid.UUID                      `gorm:"type:uuid;primaryKey"`
	OrderID          uuid.UUID                      `gorm:"type:uuid;not null;index"`
	Level            int                            `gorm:"not null"`
	Mode             procurement.ApprovalMode       `gorm:"type:varchar(20);not null"`
	Approver         string                         `gorm:"type:varchar(100);not null"`
	OriginalApprover string                         `gorm:"type:varchar(100);not null"`
	Status           procurement.ApprovalStepStatus `gorm:"type:varchar(20);not null;index:idx_approval_steps_due,priority:1"`
	RequestedAt      *time.Time
	RespondedAt      *time.Time
	ExpiresInSeconds int64      `gorm:"not null;default:0"`
	ExpiresAt        *time.Time `gorm:"index:idx_approval_steps_due,priority:2"`
	Comments         string     `gorm:"type:text"`
	RejectionReason  string     `gorm:"type:text"`
	DelegatedFrom    string     `gorm:"type:varchar(100)"`
	DelegationReason string     `gorm:"type:text"`
	DelegatedAt      *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ApprovalStepModel) TableName() string {
	return "approval_steps"
}

// ToDomain converts the model to an ApprovalStep
func (m *ApprovalStepModel) ToDomain() *procurement.ApprovalStep {
	return &procurement.ApprovalStep{
		ID:               m.ID,
		OrderID:          m.OrderID,
		Level:            m.Level,
		Mode:             m.Mode,
		Approver:         m.Approver,
		OriginalApprover: m.OriginalApprover,
		Status:           m.Status,
		RequestedAt:      m.RequestedAt,
		RespondedAt:      m.RespondedAt,
		ExpiresIn:        time.Duration(m.ExpiresInSeconds) * time.Second,
		ExpiresAt:        m.ExpiresAt,
		Comments:         m.Comments,
		RejectionReason:  m.RejectionReason,
		DelegatedFrom:    m.DelegatedFrom,
		DelegationReason: m.DelegationReason,
		DelegatedAt:      m.DelegatedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// ApprovalStepModelFromDomain converts an ApprovalStep to its model
func ApprovalStepModelFromDomain(s *procurement.ApprovalStep) *ApprovalStepModel {
	return &ApprovalStepModel{
		ID:               s.ID,
		OrderID:          s.OrderID,
		Level:            s.Level,
		Mode:             s.Mode,
		Approver:         s.Approver,
		OriginalApprover: s.OriginalApprover,
		Status:           s.Status,
		RequestedAt:      s.RequestedAt,
		RespondedAt:      s.RespondedAt,
		ExpiresInSeconds: int64(s.ExpiresIn / time.Second),
		ExpiresAt:        s.ExpiresAt,
		Comments:         s.Comments,
		RejectionReason:  s.RejectionReason,
		DelegatedFrom:    s.DelegatedFrom,
		DelegationReason: s.DelegationReason,
		DelegatedAt:      s.DelegatedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// IntegrationAttemptModel is the persistence model for a portal integration attempt
type IntegrationAttemptModel struct {
	ID              uuid.UUID                        `gorm:"type:uuid;primaryKey"`
	OrderID         uuid.UUID                        `gorm:"type:uuid;not null;uniqueIndex:idx_integration_attempt_number,priority:1"`
	Operation       procurement.IntegrationOperation `gorm:"type:varchar(30);not null;uniqueIndex:idx_integration_attempt_number,priority:2"`
	AttemptNumber   int                              `gorm:"not null;uniqueIndex:idx_integration_attempt_number,priority:3"`
	Status          procurement.AttemptStatus        `gorm:"type:varchar(20);not null;index"`
	RequestPayload  []byte                           `gorm:"type:bytea"`
	ResponsePayload []byte                           `gorm:"type:bytea"`
	ErrorMessage    string                           `gorm:"type:text"`
	NextAttemptAt   *time.Time
	PortalReference string `gorm:"type:varchar(100)"`
	OriginIP        string `gorm:"type:varchar(64)"`
	SignatureDigest string `gorm:"type:varchar(128)"`
	MessageID       string `gorm:"type:varchar(100)"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationAttemptModel) TableName() string {
	return "integration_attempts"
}

// ToDomain converts the model to an IntegrationAttempt
func (m *IntegrationAttemptModel) ToDomain() *procurement.IntegrationAttempt {
	return &procurement.IntegrationAttempt{
		ID:              m.ID,
		OrderID:         m.OrderID,
		Operation:       m.Operation,
		AttemptNumber:   m.AttemptNumber,
		Status:          m.Status,
		RequestPayload:  m.RequestPayload,
		ResponsePayload: m.ResponsePayload,
		ErrorMessage:    m.ErrorMessage,
		NextAttemptAt:   m.NextAttemptAt,
		PortalReference: m.PortalReference,
		OriginIP:        m.OriginIP,
		SignatureDigest: m.SignatureDigest,
		MessageID:       m.MessageID,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// IntegrationAttemptModelFromDomain converts an IntegrationAttempt to its model
func IntegrationAttemptModelFromDomain(a *procurement.IntegrationAttempt) *IntegrationAttemptModel {
	return &IntegrationAttemptModel{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Operation:       a.Operation,
		AttemptNumber:   a.AttemptNumber,
		Status:          a.Status,
		RequestPayload:  a.RequestPayload,
		ResponsePayload: a.ResponsePayload,
		ErrorMessage:    a.ErrorMessage,
		NextAttemptAt:   a.NextAttemptAt,
		PortalReference: a.PortalReference,
		OriginIP:        a.OriginIP,
		SignatureDigest: a.SignatureDigest,
		MessageID:       a.MessageID,
		StartedAt:       a.StartedAt,
		FinishedAt:      a.FinishedAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// SupplierResponseModel is the persistence model for an applied supplier message.
// (correlation_id, message_id) is unique so a replayed message cannot be stored twice.
type SupplierResponseModel struct {
	ID             uuid.UUID                `gorm:"type:uuid;primaryKey"`
	OrderID        uuid.UUID                `gorm:"type:uuid;not null;index"`
	AttemptID      uuid.UUID                `gorm:"type:uuid;not null"`
	CorrelationID  string                   `gorm:"type:varchar(64);not null;uniqueIndex:idx_supplier_response_message,priority:1"`
	MessageID      string                   `gorm:"type:varchar(100);not null;uniqueIndex:idx_supplier_response_message,priority:2"`
	SupplierRef    string                   `gorm:"type:varchar(100);not null"`
	Kind           procurement.ResponseKind `gorm:"type:varchar(30);not null"`
	PayloadJSON    string                   `gorm:"column:payload;type:jsonb;not null"`
	Remarks        string                   `gorm:"type:text"`
	SentAt         time.Time                `gorm:"not null"`
	ReceivedAt     time.Time                `gorm:"not null"`
	Acknowledgment []byte                   `gorm:"type:bytea"`
}

// TableName returns the table name for GORM
func (SupplierResponseModel) TableName() string {
	return "supplier_responses"
}

// ToDomain converts the model to a SupplierResponse, decoding the payload variant
func (m *SupplierResponseModel) ToDomain() (*procurement.SupplierResponse, error) {
	payload, err := procurement.DecodePayload(m.Kind, []byte(m.PayloadJSON))
	if err != nil {
		return nil, err
	}
	return &procurement.SupplierResponse{
		ID:             m.ID,
		OrderID:        m.OrderID,
		AttemptID:      m.AttemptID,
		CorrelationID:  m.CorrelationID,
		MessageID:      m.MessageID,
		SupplierRef:    m.SupplierRef,
		Payload:        payload,
		Remarks:        m.Remarks,
		SentAt:         m.SentAt,
		ReceivedAt:     m.ReceivedAt,
		Acknowledgment: m.Acknowledgment,
	}, nil
}

// SupplierResponseModelFromDomain converts a SupplierResponse to its model
func SupplierResponseModelFromDomain(r *procurement.SupplierResponse) (*SupplierResponseModel, error) {
	payload := []byte("{}")
	if r.Payload != nil {
		var err error
		if payload, err = json.Marshal(r.Payload); err != nil {
			return nil, err
		}
	}
	return &SupplierResponseModel{
		ID:             r.ID,
		OrderID:        r.OrderID,
		AttemptID:      r.AttemptID,
		CorrelationID:  r.CorrelationID,
		MessageID:      r.MessageID,
		SupplierRef:    r.SupplierRef,
		Kind:           r.Kind(),
		PayloadJSON:    string(payload),
		Remarks:        r.Remarks,
		SentAt:         r.SentAt,
		ReceivedAt:     r.ReceivedAt,
		Acknowledgment: r.Acknowledgment,
	}, nil
}

// AuditEventModel is one append-only row of the order audit ledger
type AuditEventModel struct {
	ID            uuid.UUID                `gorm:"type:uuid;primaryKey"`
	OrderID       uuid.UUID                `gorm:"type:uuid;not null;index:idx_audit_events_order,priority:1"`
	Event         string                   `gorm:"type:varchar(60);not null"`
	FromStatus    procurement.OrderStatus  `gorm:"type:varchar(30)"`
	ToStatus      procurement.OrderStatus  `gorm:"type:varchar(30)"`
	ChangedFields pq.StringArray           `gorm:"type:text[]"`
	Actor         string                   `gorm:"type:varchar(100);not null"`
	Origin        string                   `gorm:"type:varchar(30);not null"`
	Outcome       procurement.AuditOutcome `gorm:"type:varchar(20);not null"`
	ErrorCode     string                   `gorm:"type:varchar(60)"`
	DetailsJSON   string                   `gorm:"column:details;type:jsonb"`
	OccurredAt    time.Time                `gorm:"not null;index:idx_audit_events_order,priority:2"`
}

// TableName returns the table name for GORM
func (AuditEventModel) TableName() string {
	return "audit_events"
}

// ToDomain converts the model to an AuditEvent
func (m *AuditEventModel) ToDomain() *procurement.AuditEvent {
	e := &procurement.AuditEvent{
		ID:            m.ID,
		OrderID:       m.OrderID,
		Event:         m.Event,
		FromStatus:    m.FromStatus,
		ToStatus:      m.ToStatus,
		ChangedFields: []string(m.ChangedFields),
		Actor:         m.Actor,
		Origin:        m.Origin,
		Outcome:       m.Outcome,
		ErrorCode:     m.ErrorCode,
		OccurredAt:    m.OccurredAt,
	}
	if m.DetailsJSON != "" {
		_ = json.Unmarshal([]byte(m.DetailsJSON), &e.Details)
	}
	return e
}

// AuditEventModelFromDomain converts an AuditEvent to its model
func AuditEventModelFromDomain(e *procurement.AuditEvent) *AuditEventModel {
	m := &AuditEventModel{
		ID:            e.ID,
		OrderID:       e.OrderID,
		Event:         e.Event,
		FromStatus:    e.FromStatus,
		ToStatus:      e.ToStatus,
		ChangedFields: pq.StringArray(e.ChangedFields),
		Actor:         e.Actor,
		Origin:        e.Origin,
		Outcome:       e.Outcome,
		ErrorCode:     e.ErrorCode,
		OccurredAt:    e.OccurredAt,
	}
	if len(e.Details) > 0 {
		if data, err := json.Marshal(e.Details); err == nil {
			m.DetailsJSON = string(data)
		}
	}
	return m
}

// SequenceCounterModel holds the last order sequence issued for a day
type SequenceCounterModel struct {
	Day     string `gorm:"type:varchar(8);primaryKey"`
	Counter int    `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SequenceCounterModel) TableName() string {
	return "order_sequence_counters"
}

// ProcurementModels lists every model for AutoMigrate in tests and development
func ProcurementModels() []interface{} {
	return []interface{}{
		&PurchaseOrderModel{},
		&PurchaseOrderItemModel{},
		&ApprovalStepModel{},
		&IntegrationAttemptModel{},
		&SupplierResponseModel{},
		&AuditEventModel{},
		&SequenceCounterModel{},
		&OutboxEntryModel{},
	}
}
