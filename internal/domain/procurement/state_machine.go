package procurement

import (
	"errors"
	"fmt"
	"sort"
)

// Trigger names a requested status change
type Trigger string

const (
	TriggerSubmit              Trigger = "submit"
	TriggerApprove             Trigger = "approve"
	TriggerReject              Trigger = "reject"
	TriggerMarkSent            Trigger = "mark_sent"
	TriggerPortalView          Trigger = "portal_view"
	TriggerPortalAccept        Trigger = "portal_accept"
	TriggerPortalQuestion      Trigger = "portal_question"
	TriggerPortalChangeRequest Trigger = "portal_change_request"
	TriggerPortalRefuse        Trigger = "portal_refuse"
	TriggerAcceptChanges       Trigger = "accept_changes"
	TriggerFinalize            Trigger = "finalize"
	TriggerCancel              Trigger = "cancel"
)

// IsSystemDriven reports whether the trigger may only be fired by the engine itself
// (approval resolution, portal acknowledgment, validated supplier responses).
func (t Trigger) IsSystemDriven() bool {
	switch t {
	case TriggerApprove, TriggerReject, TriggerMarkSent,
		TriggerPortalView, TriggerPortalAccept, TriggerPortalQuestion,
		TriggerPortalChangeRequest, TriggerPortalRefuse:
		return true
	}
	return false
}

// TransitionRequest carries the trigger plus whatever evidence its guard needs.
type TransitionRequest struct {
	Trigger Trigger
	Actor   string
	Origin  string
	Reason  string
	// Approvals must report every level approved for TriggerApprove.
	Approvals *ApprovalPlan
	// Attempt must be a successful send for TriggerMarkSent.
	Attempt *IntegrationAttempt
}

// Guard returns nil when the transition may proceed, or an error describing why not
type Guard func(o *Order, req TransitionRequest) error

type transition struct {
	to    OrderStatus
	guard Guard
}

// StateMachine is an immutable (status, trigger) -> (status, guard) table
type StateMachine struct {
	table map[OrderStatus]map[Trigger]transition
}

// StateMachineBuilder assembles a StateMachine
type StateMachineBuilder struct {
	table map[OrderStatus]map[Trigger]transition
}

// StateConfiguration configures the transitions leaving one status
type StateConfiguration struct {
	builder *StateMachineBuilder
	from    OrderStatus
}

// NewStateMachineBuilder creates an empty builder
func NewStateMachineBuilder() *StateMachineBuilder {
	return &StateMachineBuilder{table: make(map[OrderStatus]map[Trigger]transition)}
}

// Configure returns the configuration for transitions leaving state
func (b *StateMachineBuilder) Configure(state OrderStatus) *StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if _, ok := b.table[state]; !ok {
		b.table[state] = make(map[Trigger]transition)
	}
	return &StateConfiguration{builder: b, from: state}
}

// Permit allows trigger to move to toState unconditionally
func (c *StateConfiguration) Permit(trigger Trigger, toState OrderStatus) *StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows trigger to move to toState when guard passes
func (c *StateConfiguration) PermitIf(trigger Trigger, toState OrderStatus, guard Guard) *StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.builder.table[c.from][trigger] = transition{to: toState, guard: guard}
	return c
}

// Build freezes the table
func (b *StateMachineBuilder) Build() *StateMachine {
	table := make(map[OrderStatus]map[Trigger]transition, len(b.table))
	for from, triggers := range b.table {
		copied := make(map[Trigger]transition, len(triggers))
		for trigger, t := range triggers {
			copied[trigger] = t
		}
		table[from] = copied
	}
	return &StateMachine{table: table}
}

// Resolve validates req against the table and the guard, returning the next status.
// It never mutates the order.
func (m *StateMachine) Resolve(o *Order, req TransitionRequest) (OrderStatus, error) {
	t, ok := m.table[o.Status][req.Trigger]
	if !ok {
		return "", &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: req.Trigger}
	}
	if t.guard != nil {
		if err := t.guard(o, req); err != nil {
			return "", &InvalidTransitionError{OrderID: o.ID.String(), From: o.Status, Trigger: req.Trigger, To: t.to, Reason: err.Error()}
		}
	}
	return t.to, nil
}

// CanFire reports whether trigger appears in the table for from, ignoring guards
func (m *StateMachine) CanFire(from OrderStatus, trigger Trigger) bool {
	_, ok := m.table[from][trigger]
	return ok
}

// PermittedTriggers lists the triggers leaving from, sorted
func (m *StateMachine) PermittedTriggers(from OrderStatus) []Trigger {
	triggers := make([]Trigger, 0, len(m.table[from]))
	for trigger := range m.table[from] {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

func guardHasValidItems(o *Order, _ TransitionRequest) error {
	if len(o.Items) == 0 {
		return errors.New("order has no items")
	}
	for i := range o.Items {
		if err := o.Items[i].validate(); err != nil {
			return fmt.Errorf("item %d: %w", o.Items[i].Sequence, err)
		}
	}
	return nil
}

func guardAllLevelsApproved(o *Order, req TransitionRequest) error {
	if req.Approvals == nil || req.Approvals.OrderID != o.ID {
		return errors.New("approval plan missing")
	}
	if !req.Approvals.AllApproved() {
		return errors.New("approval levels still pending")
	}
	return nil
}

func guardSuccessfulSend(o *Order, req TransitionRequest) error {
	a := req.Attempt
	if a == nil || a.OrderID != o.ID {
		return errors.New("no portal delivery attempt")
	}
	if !a.Operation.IsDelivery() || a.Status != AttemptSuccess {
		return fmt.Errorf("attempt %s is %s/%s", a.ID, a.Operation, a.Status)
	}
	if a.PortalReference == "" {
		return errors.New("portal acknowledgment carries no reference")
	}
	return nil
}

func guardReason(_ *Order, req TransitionRequest) error {
	if req.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

func newOrderStateMachine() *StateMachine {
	b := NewStateMachineBuilder()

	b.Configure(StatusDraft).
		PermitIf(TriggerSubmit, StatusAwaitingApproval, guardHasValidItems)

	b.Configure(StatusAwaitingApproval).
		PermitIf(TriggerApprove, StatusApproved, guardAllLevelsApproved).
		PermitIf(TriggerReject, StatusRejected, guardReason)

	b.Configure(StatusApproved).
		PermitIf(TriggerMarkSent, StatusSent, guardSuccessfulSend)

	b.Configure(StatusSent).
		Permit(TriggerPortalView, StatusViewed)

	for _, s := range []OrderStatus{StatusSent, StatusViewed, StatusQuestioned} {
		b.Configure(s).
			Permit(TriggerPortalAccept, StatusConfirmed).
			Permit(TriggerPortalQuestion, StatusQuestioned).
			Permit(TriggerPortalChangeRequest, StatusChangeRequested).
			PermitIf(TriggerPortalRefuse, StatusCancelled, guardReason)
	}

	b.Configure(StatusChangeRequested).
		Permit(TriggerAcceptChanges, StatusConfirmed).
		Permit(TriggerFinalize, StatusFinalized)

	b.Configure(StatusConfirmed).
		Permit(TriggerFinalize, StatusFinalized)

	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			b.Configure(s).PermitIf(TriggerCancel, StatusCancelled, guardReason)
		}
	}

	return b.Build()
}

// OrderStateMachine is the purchase-order transition table
var OrderStateMachine = newOrderStateMachine()
