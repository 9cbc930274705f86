package procurement

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

const (
	buyer    = "buyer@example.com"
	supplier = "SUP-001"
	validSig = "valid-signature"
)

// twoLevelPolicy is manager then director, each an individual approver
func twoLevelPolicy() procurement.ApprovalPolicy {
	return procurement.ApprovalPolicy{Levels: []procurement.PolicyLevel{
		{Level: 1, Mode: procurement.ApprovalIndividual, Approvers: []string{"manager"}, ExpiresIn: time.Hour},
		{Level: 2, Mode: procurement.ApprovalIndividual, Approvers: []string{"director"}},
	}}
}

type harness struct {
	clock     *shared.ManualClock
	mem       *memStore
	metrics   *countingMetrics
	gateway   *MockPortalGateway
	scheduler *recordingScheduler
	orders    *OrderService
	approvals *ApprovalService
	dispatch  *DispatchService
	receiver  *ReceiverService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     shared.NewManualClock(testNow),
		mem:       newMemStore(),
		metrics:   newCountingMetrics(),
		gateway:   new(MockPortalGateway),
		scheduler: newRecordingScheduler(),
	}
	store := h.mem.store()
	logger := zap.NewNop()

	h.approvals = NewApprovalService(store, &StaticPolicyProvider{Default: twoLevelPolicy()}, h.clock, logger)
	h.approvals.SetMetrics(h.metrics)

	h.orders = NewOrderService(store, h.approvals, h.clock, logger)
	h.orders.SetMetrics(h.metrics)
	h.orders.SetRetryCanceller(h.scheduler)

	h.dispatch = NewDispatchService(store, h.gateway, procurement.RetryPolicy{
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 3,
	}, h.clock, logger)
	h.dispatch.SetMetrics(h.metrics)
	h.dispatch.SetRetryScheduler(h.scheduler)
	h.dispatch.SetJitterSource(func() float64 { return 0 })

	h.receiver = NewReceiverService(store, stubVerifier{valid: validSig}, h.clock, logger)
	h.receiver.SetMetrics(h.metrics)

	h.gateway.On("Sign", mock.Anything).Return(&procurement.SignedMessage{
		SupplierRef: supplier,
		MessageID:   "out-1",
		Timestamp:   strconv.FormatInt(testNow.Unix(), 10),
		Signature:   "outbound-signature",
		Body:        []byte(`{"operation":"send_order"}`),
	}, nil).Maybe()
	return h
}

func createRequest() CreateOrderRequest {
	return CreateOrderRequest{
		SupplierRef:  supplier,
		SupplierName: "Acme Industrial",
		Type:         "material",
		Currency:     "brl",
		CostCenter:   "CC-100",
		CreatedBy:    buyer,
		Items: []OrderItemInput{
			{Description: "Steel bolts M8", Quantity: decimal.NewFromInt(10), Unit: "pcs", UnitPrice: decimal.RequireFromString("5.00")},
			{Description: "Hydraulic pump", Quantity: decimal.NewFromInt(1), Unit: "unit", UnitPrice: decimal.RequireFromString("100.00")},
		},
	}
}

func (h *harness) createOrder(t *testing.T) *OrderResponse {
	t.Helper()
	resp, err := h.orders.Create(context.Background(), createRequest())
	require.NoError(t, err)
	return resp
}

// submitted creates an order and submits it under the two-level policy
func (h *harness) submitted(t *testing.T) *OrderResponse {
	t.Helper()
	created := h.createOrder(t)
	resp, err := h.orders.Submit(context.Background(), created.ID, SubmitOrderRequest{Version: created.Version}, buyer)
	require.NoError(t, err)
	return resp
}

func (h *harness) stepsOf(t *testing.T, orderID uuid.UUID) []ApprovalStepResponse {
	t.Helper()
	steps, err := h.orders.ApprovalSteps(context.Background(), orderID)
	require.NoError(t, err)
	return steps
}

// approved drives an order through both approval levels
func (h *harness) approved(t *testing.T) uuid.UUID {
	t.Helper()
	o := h.submitted(t)
	steps := h.stepsOf(t, o.ID)
	require.Len(t, steps, 2)
	_, err := h.approvals.ResolveStep(context.Background(), steps[0].ID, procurement.DecisionApprove, "manager", "", "")
	require.NoError(t, err)
	_, err = h.approvals.ResolveStep(context.Background(), steps[1].ID, procurement.DecisionApprove, "director", "", "")
	require.NoError(t, err)
	return o.ID
}

// sent approves an order and delivers it on the first attempt
func (h *harness) sent(t *testing.T) *procurement.Order {
	t.Helper()
	id := h.approved(t)
	h.gateway.On("Send", mock.Anything, mock.Anything).
		Return(&procurement.PortalReceipt{Reference: "PRT-1", StatusCode: 200, Raw: []byte(`{"reference":"PRT-1"}`)}, nil).Once()
	_, err := h.dispatch.Dispatch(context.Background(), id, buyer)
	require.NoError(t, err)
	o := h.mem.order(id)
	require.Equal(t, procurement.StatusSent, o.Status)
	return o
}

// inbound builds a signed inbound message stamped with the current clock
func (h *harness) inbound(o *procurement.Order, messageID, body string) InboundMessage {
	return InboundMessage{
		SupplierRef:   o.SupplierRef,
		Signature:     validSig,
		Timestamp:     strconv.FormatInt(h.clock.Now().Unix(), 10),
		MessageID:     messageID,
		CorrelationID: o.CorrelationID,
		OriginIP:      "203.0.113.7",
		Body:          []byte(body),
	}
}
