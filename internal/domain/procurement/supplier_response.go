package procurement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResponseKind tags the supplier response variant
type ResponseKind string

const (
	ResponseAccept        ResponseKind = "accept"
	ResponseQuestion      ResponseKind = "question"
	ResponseChangeRequest ResponseKind = "change_request"
	ResponseRefuse        ResponseKind = "refuse"
	ResponseView          ResponseKind = "view"
)

// IsValid reports whether k is a known kind
func (k ResponseKind) IsValid() bool {
	switch k {
	case ResponseAccept, ResponseQuestion, ResponseChangeRequest, ResponseRefuse, ResponseView:
		return true
	}
	return false
}

const defaultRefuseReason = "refused by supplier"

// ItemAnswer is the supplier's answer for one order item
type ItemAnswer struct {
	ItemSequence int                    `json:"item_sequence"`
	Status       ItemConfirmationStatus `json:"status"`
	Quantity     *decimal.Decimal       `json:"quantity,omitempty"`
	UnitPrice    *decimal.Decimal       `json:"unit_price,omitempty"`
	DeliveryDate *time.Time             `json:"delivery_date,omitempty"`
	Remarks      string                 `json:"remarks,omitempty"`
}

func (a ItemAnswer) proposesChange() bool {
	return a.Quantity != nil || a.UnitPrice != nil || a.DeliveryDate != nil
}

// ResponsePayload is the kind-specific body of a supplier response
type ResponsePayload interface {
	Kind() ResponseKind
	validate(errs FieldErrors)
}

// AcceptPayload confirms the order, optionally item by item
type AcceptPayload struct {
	Items []ItemAnswer `json:"items,omitempty"`
}

// QuestionPayload asks the buyer for clarification
type QuestionPayload struct {
	Question string       `json:"question"`
	Items    []ItemAnswer `json:"items,omitempty"`
}

// ChangeRequestPayload proposes new item values
type ChangeRequestPayload struct {
	Items  []ItemAnswer `json:"items"`
	Reason string       `json:"reason,omitempty"`
}

// RefusePayload declines the order
type RefusePayload struct {
	Reason string       `json:"reason,omitempty"`
	Items  []ItemAnswer `json:"items,omitempty"`
}

// ViewPayload is the portal read receipt
type ViewPayload struct{}

func (AcceptPayload) Kind() ResponseKind        { return ResponseAccept }
func (QuestionPayload) Kind() ResponseKind      { return ResponseQuestion }
func (ChangeRequestPayload) Kind() ResponseKind { return ResponseChangeRequest }
func (RefusePayload) Kind() ResponseKind        { return ResponseRefuse }
func (ViewPayload) Kind() ResponseKind          { return ResponseView }

func validateAnswers(answers []ItemAnswer, errs FieldErrors) {
	seen := make(map[int]bool, len(answers))
	for i, a := range answers {
		field := fmt.Sprintf("items[%d]", i)
		if a.ItemSequence < 1 {
			errs.Add(field+".item_sequence", "must be at least 1")
		}
		if seen[a.ItemSequence] {
			errs.Add(field+".item_sequence", "duplicate answer for item %d", a.ItemSequence)
		}
		seen[a.ItemSequence] = true
		if a.Status != "" && (!a.Status.IsValid() || a.Status == ItemUnanswered) {
			errs.Add(field+".status", "must be one of confirmed, changed, refused, pending")
		}
		if a.Quantity != nil && !a.Quantity.IsPositive() {
			errs.Add(field+".quantity", "must be greater than zero")
		}
		if a.UnitPrice != nil && a.UnitPrice.IsNegative() {
			errs.Add(field+".unit_price", "must not be negative")
		}
	}
}

func (p AcceptPayload) validate(errs FieldErrors) { validateAnswers(p.Items, errs) }

func (p QuestionPayload) validate(errs FieldErrors) {
	if p.Question == "" && len(p.Items) == 0 {
		errs.Add("question", "a question or item answers are required")
	}
	validateAnswers(p.Items, errs)
}

func (p ChangeRequestPayload) validate(errs FieldErrors) {
	if len(p.Items) == 0 {
		errs.Add("items", "a change request must name at least one item")
	}
	for i, a := range p.Items {
		if !a.proposesChange() && a.Status != ItemRefused {
			errs.Add(fmt.Sprintf("items[%d]", i), "must propose quantity, unit_price or delivery_date")
		}
	}
	validateAnswers(p.Items, errs)
}

func (p RefusePayload) validate(errs FieldErrors) { validateAnswers(p.Items, errs) }

func (ViewPayload) validate(FieldErrors) {}

// ValidatePayload checks a payload independently of any order
func ValidatePayload(p ResponsePayload) error {
	if p == nil {
		return FieldErrors{"kind": "is required"}.Err()
	}
	errs := FieldErrors{}
	p.validate(errs)
	return errs.Err()
}

// DecodePayload builds the payload variant for kind from its JSON body
func DecodePayload(kind ResponseKind, raw []byte) (ResponsePayload, error) {
	var (
		p   ResponsePayload
		err error
	)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch kind {
	case ResponseAccept:
		var v AcceptPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ResponseQuestion:
		var v QuestionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ResponseChangeRequest:
		var v ChangeRequestPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ResponseRefuse:
		var v RefusePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case ResponseView:
		p = ViewPayload{}
	default:
		return nil, FieldErrors{"kind": fmt.Sprintf("unknown response kind %q", kind)}.Err()
	}
	if err != nil {
		return nil, FieldErrors{"payload": err.Error()}.Err()
	}
	return p, nil
}

// SupplierResponse is a validated inbound portal message as applied to an order
type SupplierResponse struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	AttemptID      uuid.UUID
	CorrelationID  string
	MessageID      string
	SupplierRef    string
	Payload        ResponsePayload
	Remarks        string
	SentAt         time.Time
	ReceivedAt     time.Time
	Acknowledgment []byte
}

// Kind returns the payload's kind
func (r *SupplierResponse) Kind() ResponseKind {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Kind()
}

// ApplySupplierResponse translates a response into item updates and a portal_* transition.
// A view on an order past sent is acknowledged without change and returns a nil audit.
func (o *Order) ApplySupplierResponse(r *SupplierResponse, now time.Time) (*AuditEvent, error) {
	if err := ValidatePayload(r.Payload); err != nil {
		return nil, err
	}
	if !o.Status.AcceptsSupplierResponse() {
		return nil, ErrUnexpectedResponse.
			With("order_id", o.ID.String()).
			With("status", string(o.Status)).
			With("kind", string(r.Kind()))
	}

	answers, err := o.indexAnswers(r.Payload)
	if err != nil {
		return nil, err
	}

	req := TransitionRequest{Actor: "supplier:" + o.SupplierRef, Origin: OriginPortal, Reason: r.Remarks}
	// status each answered or unanswered item ends up with
	var itemStatus func(seq int) (ItemConfirmationStatus, bool)

	switch p := r.Payload.(type) {
	case ViewPayload:
		if o.Status != StatusSent {
			return nil, nil
		}
		req.Trigger = TriggerPortalView
	case AcceptPayload:
		req.Trigger = TriggerPortalAccept
		partial := false
		for _, a := range answers {
			if a.Status != "" && a.Status != ItemConfirmed {
				partial = true
			}
		}
		itemStatus = func(seq int) (ItemConfirmationStatus, bool) {
			a, ok := answers[seq]
			if !ok || a.Status == "" || a.Status == ItemConfirmed {
				return ItemConfirmed, true
			}
			return ItemPending, true
		}
		if partial {
			req.Trigger = TriggerPortalQuestion
			if req.Reason == "" {
				req.Reason = "partial confirmation"
			}
		}
	case QuestionPayload:
		req.Trigger = TriggerPortalQuestion
		if p.Question != "" {
			req.Reason = p.Question
		}
		itemStatus = answeredAs(answers, ItemPending)
	case ChangeRequestPayload:
		req.Trigger = TriggerPortalChangeRequest
		if p.Reason != "" {
			req.Reason = p.Reason
		}
		itemStatus = answeredAs(answers, ItemChanged)
	case RefusePayload:
		req.Trigger = TriggerPortalRefuse
		req.Reason = p.Reason
		if req.Reason == "" {
			req.Reason = defaultRefuseReason
		}
		itemStatus = func(seq int) (ItemConfirmationStatus, bool) { return ItemRefused, true }
	default:
		return nil, FieldErrors{"kind": fmt.Sprintf("unsupported response kind %q", r.Kind())}.Err()
	}

	if _, err := OrderStateMachine.Resolve(o, req); err != nil {
		return nil, err
	}

	touched := false
	if itemStatus != nil {
		for i := range o.Items {
			item := &o.Items[i]
			status, ok := itemStatus(item.Sequence)
			if !ok {
				continue
			}
			item.applyAnswer(answers[item.Sequence], status, now)
			touched = true
		}
	}

	audit, err := o.Fire(req, now)
	if err != nil {
		return nil, err
	}
	audit.WithDetail("kind", string(r.Kind())).
		WithDetail("message_id", r.MessageID).
		WithDetail("correlation_id", r.CorrelationID)
	if touched {
		audit.WithFields("items")
	}
	return audit, nil
}

// answeredAs applies def to every answered item whose answer carries no explicit status
func answeredAs(answers map[int]ItemAnswer, def ItemConfirmationStatus) func(int) (ItemConfirmationStatus, bool) {
	return func(seq int) (ItemConfirmationStatus, bool) {
		a, ok := answers[seq]
		if !ok {
			return "", false
		}
		if a.Status == "" {
			return def, true
		}
		return a.Status, true
	}
}

func (o *Order) indexAnswers(p ResponsePayload) (map[int]ItemAnswer, error) {
	var list []ItemAnswer
	switch v := p.(type) {
	case AcceptPayload:
		list = v.Items
	case QuestionPayload:
		list = v.Items
	case ChangeRequestPayload:
		list = v.Items
	case RefusePayload:
		list = v.Items
	}
	answers := make(map[int]ItemAnswer, len(list))
	errs := FieldErrors{}
	for i, a := range list {
		if _, ok := o.ItemBySequence(a.ItemSequence); !ok {
			errs.Add(fmt.Sprintf("items[%d].item_sequence", i), "order %s has no item %d", o.SequenceNumber, a.ItemSequence)
			continue
		}
		answers[a.ItemSequence] = a
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return answers, nil
}
