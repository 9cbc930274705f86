package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemConfirmationStatus is the supplier's answer for one item
type ItemConfirmationStatus string

const (
	ItemUnanswered ItemConfirmationStatus = "unanswered"
	ItemConfirmed  ItemConfirmationStatus = "confirmed"
	ItemChanged    ItemConfirmationStatus = "changed"
	ItemRefused    ItemConfirmationStatus = "refused"
	ItemPending    ItemConfirmationStatus = "pending"
)

// IsValid reports whether s is a known confirmation status
func (s ItemConfirmationStatus) IsValid() bool {
	switch s {
	case ItemUnanswered, ItemConfirmed, ItemChanged, ItemRefused, ItemPending:
		return true
	}
	return false
}

// OrderItem is a line of an order. LineTotal always equals Quantity x UnitPrice.
type OrderItem struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Sequence         int
	Description      string
	Specification    string
	Quantity         decimal.Decimal
	Unit             string
	UnitPrice        decimal.Decimal
	LineTotal        decimal.Decimal
	DeliveryDate     *time.Time
	DeliveryLocation string

	ConfirmationStatus    ItemConfirmationStatus
	ProposedQuantity      *decimal.Decimal
	ProposedUnitPrice     *decimal.Decimal
	ProposedDeliveryDate  *time.Time
	SupplierRemarks       string
	ConfirmationUpdatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemSpec is the caller-supplied content of an item
type ItemSpec struct {
	Description      string
	Specification    string
	Quantity         decimal.Decimal
	Unit             string
	UnitPrice        decimal.Decimal
	DeliveryDate     *time.Time
	DeliveryLocation string
}

func validateItemSpec(field string, spec ItemSpec, errs FieldErrors) {
	if spec.Description == "" {
		errs.Add(field+".description", "is required")
	}
	if !spec.Quantity.IsPositive() {
		errs.Add(field+".quantity", "must be greater than zero")
	}
	if spec.UnitPrice.IsNegative() {
		errs.Add(field+".unit_price", "must not be negative")
	}
	if spec.Unit == "" {
		errs.Add(field+".unit", "is required")
	}
}

func newOrderItem(orderID uuid.UUID, sequence int, spec ItemSpec, now time.Time) OrderItem {
	item := OrderItem{
		ID:                 uuid.New(),
		OrderID:            orderID,
		Sequence:           sequence,
		Description:        spec.Description,
		Specification:      spec.Specification,
		Quantity:           spec.Quantity,
		Unit:               spec.Unit,
		UnitPrice:          spec.UnitPrice,
		DeliveryDate:       spec.DeliveryDate,
		DeliveryLocation:   spec.DeliveryLocation,
		ConfirmationStatus: ItemUnanswered,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	item.recalculate()
	return item
}

func (i *OrderItem) recalculate() {
	i.LineTotal = i.Quantity.Mul(i.UnitPrice).Round(2)
}

func (i *OrderItem) validate() error {
	if !i.Quantity.IsPositive() {
		return errors.New("quantity must be greater than zero")
	}
	if i.UnitPrice.IsNegative() {
		return errors.New("unit price must not be negative")
	}
	if !i.LineTotal.Equal(i.Quantity.Mul(i.UnitPrice).Round(2)) {
		return errors.New("line total does not match quantity x unit price")
	}
	return nil
}

func (i *OrderItem) applyAnswer(a ItemAnswer, status ItemConfirmationStatus, now time.Time) {
	i.ConfirmationStatus = status
	i.ProposedQuantity = a.Quantity
	i.ProposedUnitPrice = a.UnitPrice
	i.ProposedDeliveryDate = a.DeliveryDate
	i.SupplierRemarks = a.Remarks
	i.ConfirmationUpdatedAt = &now
	i.UpdatedAt = now
}

// adoptProposal moves the supplier's proposed values into the ordered values
func (i *OrderItem) adoptProposal(now time.Time) bool {
	changed := false
	if i.ProposedQuantity != nil && !i.ProposedQuantity.Equal(i.Quantity) {
		i.Quantity = *i.ProposedQuantity
		changed = true
	}
	if i.ProposedUnitPrice != nil && !i.ProposedUnitPrice.Equal(i.UnitPrice) {
		i.UnitPrice = *i.ProposedUnitPrice
		changed = true
	}
	if i.ProposedDeliveryDate != nil {
		i.DeliveryDate = i.ProposedDeliveryDate
		changed = true
	}
	i.ProposedQuantity, i.ProposedUnitPrice, i.ProposedDeliveryDate = nil, nil, nil
	i.ConfirmationStatus = ItemConfirmed
	i.ConfirmationUpdatedAt = &now
	i.UpdatedAt = now
	i.recalculate()
	return changed
}
