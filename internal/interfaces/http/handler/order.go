package handler

import (
	"context"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderHandler handles purchase order endpoints
type OrderHandler struct {
	BaseHandler
	orders OrderService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Create handles POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req appprocurement.CreateOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	req.CreatedBy = middleware.GetActor(c)

	order, err := h.orders.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, order)
}

// List handles GET /orders
func (h *OrderHandler) List(c *gin.Context) {
	var filter appprocurement.OrderListFilter
	if !h.BindQuery(c, &filter) {
		return
	}

	page, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get handles GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// UpdateItems handles PUT /orders/:id/items
func (h *OrderHandler) UpdateItems(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.UpdateItemsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.UpdateItems(c.Request.Context(), id, req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Submit handles POST /orders/:id/submit
func (h *OrderHandler) Submit(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.SubmitOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.Submit(c.Request.Context(), id, req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Cancel handles POST /orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.CancelOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), id, req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// AcceptChanges handles POST /orders/:id/accept-changes
func (h *OrderHandler) AcceptChanges(c *gin.Context) {
	h.versioned(c, h.orders.AcceptChanges)
}

// Finalize handles POST /orders/:id/finalize
func (h *OrderHandler) Finalize(c *gin.Context) {
	h.versioned(c, h.orders.Finalize)
}

type versionedOp func(ctx context.Context, id uuid.UUID, req appprocurement.VersionedRequest, actor string) (*appprocurement.OrderResponse, error)

func (h *OrderHandler) versioned(c *gin.Context, op versionedOp) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.VersionedRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := op(c.Request.Context(), id, req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Archive handles DELETE /orders/:id?version=N. Only terminal orders can be archived.
func (h *OrderHandler) Archive(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.VersionedRequest
	if !h.BindQuery(c, &req) {
		return
	}

	if err := h.orders.Archive(c.Request.Context(), id, req, middleware.GetActor(c)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// AuditTrail handles GET /orders/:id/audit
func (h *OrderHandler) AuditTrail(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	events, err := h.orders.AuditTrail(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, events)
}

// Attempts handles GET /orders/:id/attempts
func (h *OrderHandler) Attempts(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	attempts, err := h.orders.Attempts(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, attempts)
}

// ApprovalSteps handles GET /orders/:id/approval-steps
func (h *OrderHandler) ApprovalSteps(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	steps, err := h.orders.ApprovalSteps(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, steps)
}
