package procurement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testItems() []ItemSpec {
	return []ItemSpec{
		{Description: "Steel bolts M8", Quantity: decimal.NewFromInt(10), Unit: "pcs", UnitPrice: decimal.RequireFromString("5.00")},
		{Description: "Hydraulic pump", Quantity: decimal.NewFromInt(1), Unit: "unit", UnitPrice: decimal.RequireFromString("100.00")},
	}
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(NewOrderInput{
		SequenceNumber: "PO-20250310-000001",
		SupplierRef:    "SUP-001",
		SupplierName:   "Acme Industrial",
		Type:           OrderTypeMaterial,
		Currency:       "brl",
		CostCenter:     "CC-100",
		CreatedBy:      "buyer@example.com",
		Items:          testItems(),
	}, testNow)
	require.NoError(t, err)
	return o
}

// persisted simulates a store round trip
func persisted(o *Order) *Order {
	o.MarkPersisted()
	return o
}

func singleApproverPolicy(approver string) ApprovalPolicy {
	return ApprovalPolicy{Levels: []PolicyLevel{{Level: 1, Mode: ApprovalIndividual, Approvers: []string{approver}}}}
}

// orderIn drives a fresh order to the requested status through legal transitions
func orderIn(t *testing.T, status OrderStatus) *Order {
	t.Helper()
	o := persisted(newTestOrder(t))
	fire := func(req TransitionRequest) {
		_, err := o.Fire(req, testNow)
		require.NoError(t, err)
		o.MarkPersisted()
	}
	if status == StatusDraft {
		return o
	}
	fire(TransitionRequest{Trigger: TriggerSubmit, Actor: "buyer@example.com", Origin: OriginUser})
	if status == StatusAwaitingApproval {
		return o
	}
	if status == StatusRejected {
		fire(TransitionRequest{Trigger: TriggerReject, Actor: "boss", Origin: OriginSystem, Reason: "over budget"})
		return o
	}
	plan, err := MaterializePlan(o.ID, singleApproverPolicy("boss"), testNow)
	require.NoError(t, err)
	_, err = plan.Resolve(plan.Steps[0].ID, DecisionApprove, "boss", "", "", testNow)
	require.NoError(t, err)
	fire(TransitionRequest{Trigger: TriggerApprove, Actor: "boss", Origin: OriginSystem, Approvals: plan})
	if status == StatusApproved {
		return o
	}
	fire(TransitionRequest{Trigger: TriggerMarkSent, Origin: OriginSystem, Attempt: successfulAttempt(t, o)})
	switch status {
	case StatusSent:
	case StatusViewed:
		fire(TransitionRequest{Trigger: TriggerPortalView, Origin: OriginPortal})
	case StatusQuestioned:
		fire(TransitionRequest{Trigger: TriggerPortalQuestion, Origin: OriginPortal})
	case StatusConfirmed:
		fire(TransitionRequest{Trigger: TriggerPortalAccept, Origin: OriginPortal})
	case StatusChangeRequested:
		fire(TransitionRequest{Trigger: TriggerPortalChangeRequest, Origin: OriginPortal})
	case StatusFinalized:
		fire(TransitionRequest{Trigger: TriggerPortalAccept, Origin: OriginPortal})
		fire(TransitionRequest{Trigger: TriggerFinalize, Actor: "buyer@example.com", Origin: OriginUser})
	case StatusCancelled:
		fire(TransitionRequest{Trigger: TriggerCancel, Actor: "buyer@example.com", Origin: OriginUser, Reason: "no longer needed"})
	default:
		t.Fatalf("unsupported status %s", status)
	}
	return o
}

func successfulAttempt(t *testing.T, o *Order) *IntegrationAttempt {
	t.Helper()
	a := NewDispatchAttempt(o.ID, OperationSendOrder, 1, []byte(`{}`), "digest", testNow)
	require.NoError(t, a.MarkSuccess([]byte(`{"reference":"PRT-1"}`), "PRT-1", testNow))
	return a
}

func newStepID() uuid.UUID { return uuid.New() }
