package handler

import (
	"net/http"
	"testing"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func orderRouter(svc *MockOrderService) http.Handler {
	h := NewOrderHandler(svc)
	r := newTestRouter()
	r.POST("/orders", h.Create)
	r.GET("/orders", h.List)
	r.GET("/orders/:id", h.Get)
	r.PUT("/orders/:id/items", h.UpdateItems)
	r.POST("/orders/:id/submit", h.Submit)
	r.POST("/orders/:id/cancel", h.Cancel)
	r.POST("/orders/:id/finalize", h.Finalize)
	r.POST("/orders/:id/accept-changes", h.AcceptChanges)
	r.DELETE("/orders/:id", h.Archive)
	r.GET("/orders/:id/audit", h.AuditTrail)
	r.GET("/orders/:id/attempts", h.Attempts)
	r.GET("/orders/:id/approval-steps", h.ApprovalSteps)
	return r
}

func validCreateBody() map[string]any {
	return map[string]any{
		"supplier_ref": "SUP-1",
		"type":         "material",
		"currency":     "EUR",
		"items": []map[string]any{
			{"description": "Steel bolts", "quantity": "10", "unit": "pcs", "unit_price": "1.25"},
		},
	}
}

func TestOrderHandler_Create(t *testing.T) {
	t.Run("creates the order for the authenticated actor", func(t *testing.T) {
		svc := new(MockOrderService)
		id := uuid.New()
		svc.On("Create", mock.Anything, mock.MatchedBy(func(req appprocurement.CreateOrderRequest) bool {
			return req.CreatedBy == testActor && req.SupplierRef == "SUP-1" &&
				len(req.Items) == 1 && req.Items[0].Quantity.String() == "10"
		})).Return(&appprocurement.OrderResponse{ID: id, Status: "draft", Version: 1}, nil)

		w := doJSON(orderRouter(svc), http.MethodPost, "/orders", validCreateBody())

		require.Equal(t, http.StatusCreated, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, id.String(), resp.Data.(map[string]any)["id"])
		svc.AssertExpectations(t)
	})

	t.Run("field validation failures are reported per field", func(t *testing.T) {
		svc := new(MockOrderService)
		body := validCreateBody()
		body["currency"] = "EURO"
		body["items"] = []map[string]any{
			{"description": "Steel bolts", "quantity": "0", "unit": "pcs", "unit_price": "-1"},
		}

		w := doJSON(orderRouter(svc), http.MethodPost, "/orders", body)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, procurement.CodeValidation, resp.Error.Code)
		assert.Contains(t, resp.Error.Details, "currency")
		assert.Contains(t, resp.Error.Details, "items[0].quantity")
		assert.Contains(t, resp.Error.Details, "items[0].unit_price")
		assert.NotEmpty(t, resp.Error.RequestID)
		svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		svc := new(MockOrderService)
		w := doJSON(orderRouter(svc), http.MethodPost, "/orders", `{"supplier_ref":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_JSON", decodeResponse(t, w).Error.Code)
	})

	t.Run("service validation error keeps its details", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Create", mock.Anything, mock.Anything).
			Return(nil, procurement.FieldErrors{"items[0].quantity": "must be positive"}.Err())

		w := doJSON(orderRouter(svc), http.MethodPost, "/orders", validCreateBody())

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "must be positive", decodeResponse(t, w).Error.Details["items[0].quantity"])
	})
}

func TestOrderHandler_Get(t *testing.T) {
	svc := new(MockOrderService)
	found, missing := uuid.New(), uuid.New()
	svc.On("Get", mock.Anything, found).Return(&appprocurement.OrderResponse{ID: found}, nil)
	svc.On("Get", mock.Anything, missing).Return(nil, procurement.ErrOrderNotFound.With("order_id", missing.String()))
	r := orderRouter(svc)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/orders/"+found.String(), nil).Code)

	w := doJSON(r, http.MethodGet, "/orders/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, missing.String(), decodeResponse(t, w).Error.Details["order_id"])

	w = doJSON(r, http.MethodGet, "/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandler_List(t *testing.T) {
	svc := new(MockOrderService)
	page := shared.NewPaginated([]appprocurement.OrderListItemResponse{{ID: uuid.New()}}, 41, 2, 20)
	svc.On("List", mock.Anything, mock.MatchedBy(func(f appprocurement.OrderListFilter) bool {
		return f.Status == "sent" && f.Page == 2
	})).Return(&page, nil)
	r := orderRouter(svc)

	w := doJSON(r, http.MethodGet, "/orders?status=sent&page=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(41), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	w = doJSON(r, http.MethodGet, "/orders?status=bogus", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestOrderHandler_Transitions(t *testing.T) {
	id := uuid.New()
	base := "/orders/" + id.String()

	t.Run("submit passes version and policy", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Submit", mock.Anything, id, mock.MatchedBy(func(req appprocurement.SubmitOrderRequest) bool {
			return req.Version == 3 && req.Policy != nil && len(req.Policy.Levels) == 1
		}), testActor).Return(&appprocurement.OrderResponse{ID: id, Status: "awaiting_approval"}, nil)

		w := doJSON(orderRouter(svc), http.MethodPost, base+"/submit", map[string]any{
			"version": 3,
			"policy": map[string]any{"levels": []map[string]any{
				{"level": 1, "mode": "individual", "approvers": []string{"bob"}},
			}},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("invalid transition is a conflict with from and trigger", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Finalize", mock.Anything, id, appprocurement.VersionedRequest{Version: 2}, testActor).
			Return(nil, &procurement.InvalidTransitionError{From: procurement.StatusDraft, Trigger: procurement.TriggerFinalize})

		w := doJSON(orderRouter(svc), http.MethodPost, base+"/finalize", map[string]any{"version": 2})

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, procurement.CodeInvalidTransition, resp.Error.Code)
		assert.Equal(t, "draft", resp.Error.Details["from"])
		assert.Equal(t, "finalize", resp.Error.Details["trigger"])
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("AcceptChanges", mock.Anything, id, appprocurement.VersionedRequest{Version: 1}, testActor).
			Return(nil, procurement.ErrConcurrencyConflict.With("order_id", id.String()))

		w := doJSON(orderRouter(svc), http.MethodPost, base+"/accept-changes", map[string]any{"version": 1})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, procurement.CodeConcurrencyConflict, decodeResponse(t, w).Error.Code)
	})

	t.Run("cancel requires a reason", func(t *testing.T) {
		svc := new(MockOrderService)
		w := doJSON(orderRouter(svc), http.MethodPost, base+"/cancel", map[string]any{"version": 1})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decodeResponse(t, w).Error.Details, "reason")
	})

	t.Run("cancel", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Cancel", mock.Anything, id, appprocurement.CancelOrderRequest{Version: 4, Reason: "budget cut"}, testActor).
			Return(&appprocurement.OrderResponse{ID: id, Status: "cancelled"}, nil)

		w := doJSON(orderRouter(svc), http.MethodPost, base+"/cancel", map[string]any{"version": 4, "reason": "budget cut"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("update items", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("UpdateItems", mock.Anything, id, mock.MatchedBy(func(req appprocurement.UpdateItemsRequest) bool {
			return req.Version == 1 && len(req.Items) == 1
		}), testActor).Return(&appprocurement.OrderResponse{ID: id}, nil)

		w := doJSON(orderRouter(svc), http.MethodPut, base+"/items", map[string]any{
			"version": 1,
			"items":   validCreateBody()["items"],
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestOrderHandler_Archive(t *testing.T) {
	id := uuid.New()
	svc := new(MockOrderService)
	svc.On("Archive", mock.Anything, id, appprocurement.VersionedRequest{Version: 5}, testActor).Return(nil)
	r := orderRouter(svc)

	w := doJSON(r, http.MethodDelete, "/orders/"+id.String()+"?version=5", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, http.MethodDelete, "/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	svc.AssertNumberOfCalls(t, "Archive", 1)
}

func TestOrderHandler_ReadSide(t *testing.T) {
	id := uuid.New()
	svc := new(MockOrderService)
	svc.On("AuditTrail", mock.Anything, id).Return([]appprocurement.AuditEventResponse{{Event: "order.created"}}, nil)
	svc.On("Attempts", mock.Anything, id).Return([]appprocurement.IntegrationAttemptResponse{}, nil)
	svc.On("ApprovalSteps", mock.Anything, id).Return(nil, assert.AnError)
	r := orderRouter(svc)

	w := doJSON(r, http.MethodGet, "/orders/"+id.String()+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeResponse(t, w).Data, 1)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/orders/"+id.String()+"/attempts", nil).Code)

	w = doJSON(r, http.MethodGet, "/orders/"+id.String()+"/approval-steps", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, assert.AnError.Error())
}
