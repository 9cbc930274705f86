package handler

import (
	"context"
	"net/http"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DispatchHandler triggers portal deliveries on demand
type DispatchHandler struct {
	BaseHandler
	dispatcher DispatchService
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(dispatcher DispatchService) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher}
}

// Dispatch handles POST /orders/:id/dispatch
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	h.run(c, h.dispatcher.Dispatch)
}

// Resend handles POST /orders/:id/resend
func (h *DispatchHandler) Resend(c *gin.Context) {
	h.run(c, h.dispatcher.Resend)
}

// run answers 200 when the portal took the order and 202 when the attempt
// failed and a retry is scheduled
func (h *DispatchHandler) run(c *gin.Context, op func(context.Context, uuid.UUID, string) (*appprocurement.DispatchResponse, error)) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	result, err := op(c.Request.Context(), id, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Attempt.Status != string(procurement.AttemptSuccess) {
		c.JSON(http.StatusAccepted, dto.NewSuccessResponse(result))
		return
	}
	h.Success(c, result)
}
