package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// MockOrderService implements OrderService for testing
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, req appprocurement.CreateOrderRequest) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, req)
	return orderResult(args)
}

func (m *MockOrderService) Get(ctx context.Context, id uuid.UUID) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id)
	return orderResult(args)
}

func (m *MockOrderService) List(ctx context.Context, filter appprocurement.OrderListFilter) (*shared.Paginated[appprocurement.OrderListItemResponse], error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.Paginated[appprocurement.OrderListItemResponse]), args.Error(1)
}

func (m *MockOrderService) UpdateItems(ctx context.Context, id uuid.UUID, req appprocurement.UpdateItemsRequest, actor string) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id, req, actor)
	return orderResult(args)
}

func (m *MockOrderService) Submit(ctx context.Context, id uuid.UUID, req appprocurement.SubmitOrderRequest, actor string) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id, req, actor)
	return orderResult(args)
}

func (m *MockOrderService) Cancel(ctx context.Context, id uuid.UUID, req appprocurement.CancelOrderRequest, actor string) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id, req, actor)
	return orderResult(args)
}

func (m *MockOrderService) AcceptChanges(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id, req, actor)
	return orderResult(args)
}

func (m *MockOrderService) Finalize(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) (*appprocurement.OrderResponse, error) {
	args := m.Called(ctx, id, req, actor)
	return orderResult(args)
}

func (m *MockOrderService) Archive(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) error {
	return m.Called(ctx, id, req, actor).Error(0)
}

func (m *MockOrderService) AuditTrail(ctx context.Context, id uuid.UUID) ([]appprocurement.AuditEventResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]appprocurement.AuditEventResponse), args.Error(1)
}

func (m *MockOrderService) Attempts(ctx context.Context, id uuid.UUID) ([]appprocurement.IntegrationAttemptResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]appprocurement.IntegrationAttemptResponse), args.Error(1)
}

func (m *MockOrderService) ApprovalSteps(ctx context.Context, id uuid.UUID) ([]appprocurement.ApprovalStepResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]appprocurement.ApprovalStepResponse), args.Error(1)
}

func orderResult(args mock.Arguments) (*appprocurement.OrderResponse, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.OrderResponse), args.Error(1)
}

// MockApprovalService implements ApprovalService for testing
type MockApprovalService struct {
	mock.Mock
}

func (m *MockApprovalService) ResolveStep(ctx context.Context, stepID uuid.UUID, decision procurement.ApprovalDecision, actor, comments, reason string) (*appprocurement.StepDecisionResponse, error) {
	args := m.Called(ctx, stepID, decision, actor, comments, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.StepDecisionResponse), args.Error(1)
}

func (m *MockApprovalService) Delegate(ctx context.Context, stepID uuid.UUID, actor, toActor, reason string) (*appprocurement.ApprovalStepResponse, error) {
	args := m.Called(ctx, stepID, actor, toActor, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.ApprovalStepResponse), args.Error(1)
}

// MockDispatchService implements DispatchService for testing
type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) Dispatch(ctx context.Context, orderID uuid.UUID, actor string) (*appprocurement.DispatchResponse, error) {
	args := m.Called(ctx, orderID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.DispatchResponse), args.Error(1)
}

func (m *MockDispatchService) Resend(ctx context.Context, orderID uuid.UUID, actor string) (*appprocurement.DispatchResponse, error) {
	args := m.Called(ctx, orderID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.DispatchResponse), args.Error(1)
}

// MockPortalReceiver implements PortalReceiver for testing
type MockPortalReceiver struct {
	mock.Mock
}

func (m *MockPortalReceiver) Receive(ctx context.Context, msg appprocurement.InboundMessage) (*appprocurement.ReceiveResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appprocurement.ReceiveResult), args.Error(1)
}

const testActor = "alice"

// newTestRouter returns an engine whose requests carry a request id and the test actor
func newTestRouter() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		c.Set(middleware.JWTActorKey, testActor)
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
