package procurement

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSnapshot is the canonical outbound order message.
// It carries no internal identifiers beyond the portal correlation id.
type OrderSnapshot struct {
	CorrelationID         string          `json:"correlation_id"`
	SequenceNumber        string          `json:"sequence_number"`
	SupplierRef           string          `json:"supplier_ref"`
	SupplierName          string          `json:"supplier_name,omitempty"`
	Type                  OrderType       `json:"type"`
	Currency              string          `json:"currency"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	RequestedDeliveryDate *time.Time      `json:"requested_delivery_date,omitempty"`
	PaymentTerms          string          `json:"payment_terms,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	Operation             string          `json:"operation"`
	AttemptNumber         int             `json:"attempt_number"`
	ChainAttempt          int             `json:"chain_attempt"`
	IssuedAt              time.Time       `json:"issued_at"`
	Items                 []SnapshotItem  `json:"items"`
}

// SnapshotItem is one item line of an OrderSnapshot
type SnapshotItem struct {
	Sequence         int             `json:"sequence"`
	Description      string          `json:"description"`
	Specification    string          `json:"specification,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	DeliveryDate     *time.Time      `json:"delivery_date,omitempty"`
	DeliveryLocation string          `json:"delivery_location,omitempty"`
}

// NewOrderSnapshot builds the outbound message for an attempt
func NewOrderSnapshot(o *Order, op IntegrationOperation, attempt int, now time.Time) OrderSnapshot {
	s := OrderSnapshot{
		CorrelationID:         o.CorrelationID,
		SequenceNumber:        o.SequenceNumber,
		SupplierRef:           o.SupplierRef,
		SupplierName:          o.SupplierName,
		Type:                  o.Type,
		Currency:              o.Currency,
		TotalAmount:           o.TotalAmount,
		RequestedDeliveryDate: o.RequestedDeliveryDate,
		PaymentTerms:          o.PaymentTerms,
		Notes:                 o.Notes,
		Operation:             string(op),
		AttemptNumber:         attempt,
		ChainAttempt:          o.DispatchAttempts,
		IssuedAt:              now,
		Items:                 make([]SnapshotItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		s.Items = append(s.Items, SnapshotItem{
			Sequence:         it.Sequence,
			Description:      it.Description,
			Specification:    it.Specification,
			Quantity:         it.Quantity,
			Unit:             it.Unit,
			UnitPrice:        it.UnitPrice,
			LineTotal:        it.LineTotal,
			DeliveryDate:     it.DeliveryDate,
			DeliveryLocation: it.DeliveryLocation,
		})
	}
	return s
}

// MessageID identifies the delivery across the retries of one dispatch chain,
// so a retry after a lost receipt reaches the portal under the same id.
// A resend starts a new chain and gets a new id.
func (s OrderSnapshot) MessageID() string {
	chainStart := s.AttemptNumber - s.ChainAttempt + 1
	name := s.CorrelationID + "/" + s.Operation + "/" + strconv.Itoa(chainStart)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// SignedMessage is an outbound body with its transport headers
type SignedMessage struct {
	SupplierRef   string
	CorrelationID string
	MessageID     string
	Timestamp     string
	Signature     string
	Body          []byte
}

// PortalReceipt is what the portal returned for a delivery.
// Raw is kept even when the delivery failed.
type PortalReceipt struct {
	Reference  string
	StatusCode int
	Raw        []byte
}

// PortalGateway signs and delivers order snapshots.
// Send returns an error for transport failures and for any non-2xx or
// reference-less acknowledgment; the receipt may still carry the raw body.
type PortalGateway interface {
	Sign(snapshot OrderSnapshot) (*SignedMessage, error)
	Send(ctx context.Context, msg *SignedMessage) (*PortalReceipt, error)
}

// SignatureVerifier authenticates inbound portal messages
type SignatureVerifier interface {
	// Verify returns ErrInvalidSignature unless signature matches the body and
	// timestamp under the supplier's key
	Verify(supplierRef, timestamp string, body []byte, signature string) error
}

// Acknowledgment is returned to the portal for an inbound message.
// It is stored with the response and replayed byte-identical for duplicates.
type Acknowledgment struct {
	CorrelationID  string      `json:"correlation_id"`
	MessageID      string      `json:"message_id"`
	OrderID        string      `json:"order_id"`
	SequenceNumber string      `json:"sequence_number"`
	OrderStatus    OrderStatus `json:"order_status"`
	Accepted       bool        `json:"accepted"`
	ReceivedAt     time.Time   `json:"received_at"`
}

// Encode renders the acknowledgment as stored and sent
func (a Acknowledgment) Encode() ([]byte, error) {
	return json.Marshal(a)
}
