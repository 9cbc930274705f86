package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Order is the purchase order aggregate root.
//
// Version increases by exactly one per persisted mutation, however many domain
// methods ran during that unit of work. The store writes with
// WHERE version = LoadedVersion().
type Order struct {
	shared.BaseAggregateRoot
	SequenceNumber        string
	SupplierRef           string
	SupplierName          string
	RequisitionRef        string
	QuotationRef          string
	Type                  OrderType
	Status                OrderStatus
	Currency              string
	TotalAmount           decimal.Decimal
	RequestedDeliveryDate *time.Time
	PaymentTerms          string
	Notes                 string
	CostCenter            string
	CreatedBy             string
	ApprovedBy            string
	CorrelationID         string
	PortalReference       string
	IntegrationStatus     IntegrationStatus
	DispatchAttempts      int
	CancelReason          string
	SubmittedAt           *time.Time
	ApprovedAt            *time.Time
	SentAt                *time.Time
	ConfirmedAt           *time.Time
	ClosedAt              *time.Time
	DeletedAt             *time.Time
	Items                 []OrderItem

	loadedVersion int
}

// NewOrderInput is the creation request header plus items
type NewOrderInput struct {
	SequenceNumber        string
	SupplierRef           string
	SupplierName          string
	RequisitionRef        string
	QuotationRef          string
	Type                  OrderType
	Currency              string
	RequestedDeliveryDate *time.Time
	PaymentTerms          string
	Notes                 string
	CostCenter            string
	CreatedBy             string
	Items                 []ItemSpec
}

// NewOrder validates input and creates a draft order at version 1.
// Any invalid field fails the whole request with a ValidationError.
func NewOrder(in NewOrderInput, now time.Time) (*Order, error) {
	errs := FieldErrors{}
	if in.SequenceNumber == "" {
		errs.Add("sequence_number", "is required")
	}
	if in.SupplierRef == "" {
		errs.Add("supplier_ref", "is required")
	}
	if !in.Type.IsValid() {
		errs.Add("type", "must be one of material, service, mixed")
	}
	code, err := normalizeCurrency(in.Currency)
	if err != nil {
		errs.Add("currency", "%v", err)
	}
	if in.CreatedBy == "" {
		errs.Add("created_by", "is required")
	}
	for i, spec := range in.Items {
		validateItemSpec(fmt.Sprintf("items[%d]", i), spec, errs)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	o := &Order{
		BaseAggregateRoot:     shared.NewBaseAggregateRoot(shared.NewBaseEntity(now)),
		SequenceNumber:        in.SequenceNumber,
		SupplierRef:           in.SupplierRef,
		SupplierName:          in.SupplierName,
		RequisitionRef:        in.RequisitionRef,
		QuotationRef:          in.QuotationRef,
		Type:                  in.Type,
		Status:                StatusDraft,
		Currency:              code,
		RequestedDeliveryDate: in.RequestedDeliveryDate,
		PaymentTerms:          in.PaymentTerms,
		Notes:                 in.Notes,
		CostCenter:            in.CostCenter,
		CreatedBy:             in.CreatedBy,
		CorrelationID:         uuid.NewString(),
		IntegrationStatus:     IntegrationIdle,
		Items:                 make([]OrderItem, 0, len(in.Items)),
	}
	for i, spec := range in.Items {
		o.Items = append(o.Items, newOrderItem(o.ID, i+1, spec, now))
	}
	o.recalculateTotals()
	o.AddDomainEvent(NewOrderCreatedEvent(o))
	return o, nil
}

func normalizeCurrency(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("is required")
	}
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return "", fmt.Errorf("must be an ISO 4217 code")
	}
	return unit.String(), nil
}

// LoadedVersion is the version the order had when read from the store (0 for new orders)
func (o *Order) LoadedVersion() int {
	return o.loadedVersion
}

// IsNew reports whether the order has never been persisted
func (o *Order) IsNew() bool {
	return o.loadedVersion == 0
}

// MarkPersisted records that the current version is stored
func (o *Order) MarkPersisted() {
	o.loadedVersion = o.Version
	o.ClearDomainEvents()
}

// IsDirty reports whether the order changed since it was loaded
func (o *Order) IsDirty() bool {
	return o.IsNew() || o.Version != o.loadedVersion
}

// CheckVersion rejects a caller presenting a stale version
func (o *Order) CheckVersion(expected int) error {
	if expected != o.Version {
		return ErrConcurrencyConflict.
			With("order_id", o.ID.String()).
			With("expected_version", fmt.Sprint(expected)).
			With("current_version", fmt.Sprint(o.Version))
	}
	return nil
}

// touch bumps the version once per unit of work
func (o *Order) touch(now time.Time) {
	if !o.IsNew() && o.Version == o.loadedVersion {
		o.IncrementVersion()
	}
	o.UpdatedAt = now
}

func (o *Order) recalculateTotals() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].recalculate()
		total = total.Add(o.Items[i].LineTotal)
	}
	o.TotalAmount = total
}

// ItemBySequence returns the item with the given sequence number
func (o *Order) ItemBySequence(seq int) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].Sequence == seq {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// ReplaceItems swaps the item list of a draft order
func (o *Order) ReplaceItems(specs []ItemSpec, actor string, now time.Time) (*AuditEvent, error) {
	if o.Status != StatusDraft {
		return nil, &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: "update_items", Reason: "items can only change while draft"}
	}
	errs := FieldErrors{}
	for i, spec := range specs {
		validateItemSpec(fmt.Sprintf("items[%d]", i), spec, errs)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	items := make([]OrderItem, 0, len(specs))
	for i, spec := range specs {
		items = append(items, newOrderItem(o.ID, i+1, spec, now))
	}
	before := o.TotalAmount
	o.Items = items
	o.recalculateTotals()
	o.touch(now)
	return NewAuditEvent(o.ID, AuditOrderItemsUpdated, actor, OriginUser, now).
		WithStatus(o.Status, o.Status).
		WithFields("items", "total_amount").
		WithDetail("total_before", before.StringFixed(2)).
		WithDetail("total_after", o.TotalAmount.StringFixed(2)), nil
}

// Fire applies a transition through the order state machine, bumps the version,
// raises OrderStatusChanged and returns the audit row for it.
func (o *Order) Fire(req TransitionRequest, now time.Time) (*AuditEvent, error) {
	next, err := OrderStateMachine.Resolve(o, req)
	if err != nil {
		return nil, err
	}
	from := o.Status
	fields := []string{"status"}

	switch req.Trigger {
	case TriggerSubmit:
		o.SubmittedAt = &now
		fields = append(fields, "submitted_at")
	case TriggerApprove:
		o.ApprovedAt = &now
		o.ApprovedBy = req.Actor
		fields = append(fields, "approved_at", "approved_by")
	case TriggerMarkSent:
		o.SentAt = &now
		o.PortalReference = req.Attempt.PortalReference
		o.IntegrationStatus = IntegrationSynced
		fields = append(fields, "sent_at", "portal_reference", "integration_status")
	case TriggerPortalAccept, TriggerAcceptChanges:
		o.ConfirmedAt = &now
		fields = append(fields, "confirmed_at")
	case TriggerCancel, TriggerPortalRefuse, TriggerReject:
		o.CancelReason = req.Reason
		fields = append(fields, "cancel_reason")
	}
	o.Status = next
	if next.IsTerminal() {
		o.ClosedAt = &now
		fields = append(fields, "closed_at")
	}
	o.touch(now)
	o.AddDomainEvent(NewOrderStatusChangedEvent(o, from, req, now))

	return NewAuditEvent(o.ID, "order."+string(req.Trigger), req.Actor, req.Origin, now).
		WithStatus(from, next).
		WithFields(fields...).
		WithDetail("reason", req.Reason), nil
}

// AcceptChanges adopts every supplier proposal and confirms the order
func (o *Order) AcceptChanges(actor string, now time.Time) (*AuditEvent, error) {
	if o.Status != StatusChangeRequested {
		return nil, &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: TriggerAcceptChanges}
	}
	for i := range o.Items {
		if o.Items[i].ConfirmationStatus == ItemChanged || o.Items[i].ConfirmationStatus == ItemPending {
			o.Items[i].adoptProposal(now)
		}
	}
	before := o.TotalAmount
	o.recalculateTotals()
	audit, err := o.Fire(TransitionRequest{Trigger: TriggerAcceptChanges, Actor: actor, Origin: OriginUser}, now)
	if err != nil {
		return nil, err
	}
	return audit.WithFields("items", "total_amount").
		WithDetail("total_before", before.StringFixed(2)).
		WithDetail("total_after", o.TotalAmount.StringFixed(2)), nil
}

// Archive soft-deletes an order in a terminal status
func (o *Order) Archive(actor string, now time.Time) (*AuditEvent, error) {
	if !o.Status.IsTerminal() {
		return nil, &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: "archive", Reason: "only terminal orders can be archived"}
	}
	if o.DeletedAt != nil {
		return nil, ErrOrderNotFound.With("order_id", o.ID.String())
	}
	o.DeletedAt = &now
	o.touch(now)
	return NewAuditEvent(o.ID, AuditOrderArchived, actor, OriginUser, now).
		WithStatus(o.Status, o.Status).
		WithFields("deleted_at"), nil
}

// TouchApprovalProgress records a change to the owned approval steps
func (o *Order) TouchApprovalProgress(now time.Time) {
	o.touch(now)
}

// BeginDispatch flags a delivery attempt as in flight.
// restart resets the attempt chain (manual resend).
func (o *Order) BeginDispatch(restart bool, now time.Time) error {
	if o.Status != StatusApproved {
		return &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: TriggerMarkSent, Reason: "only approved orders are dispatched"}
	}
	if o.IntegrationStatus == IntegrationSending {
		return ErrDispatchInProgress.With("order_id", o.ID.String())
	}
	if restart {
		o.DispatchAttempts = 0
	}
	o.DispatchAttempts++
	o.IntegrationStatus = IntegrationSending
	o.touch(now)
	return nil
}

// DispatchFailed records the outcome of a failed attempt: retry_scheduled or exhausted
func (o *Order) DispatchFailed(exhausted bool, now time.Time) {
	if exhausted {
		o.IntegrationStatus = IntegrationExhausted
	} else {
		o.IntegrationStatus = IntegrationRetryScheduled
	}
	o.touch(now)
}

// DispatchAbandoned clears the in-flight flag of an order that left approved meanwhile
func (o *Order) DispatchAbandoned(now time.Time) {
	o.IntegrationStatus = IntegrationIdle
	o.touch(now)
}
