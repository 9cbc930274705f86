package handler

import (
	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// ApprovalHandler records approver decisions
type ApprovalHandler struct {
	BaseHandler
	approvals ApprovalService
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(approvals ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// Decide handles POST /approval-steps/:id/decision.
// approve and reject resolve the step; delegate hands it to another approver.
func (h *ApprovalHandler) Decide(c *gin.Context) {
	stepID, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appprocurement.StepDecisionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	actor := middleware.GetActor(c)

	if req.Decision == "delegate" {
		step, err := h.approvals.Delegate(c.Request.Context(), stepID, actor, req.DelegateTo, req.Reason)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, step)
		return
	}

	result, err := h.approvals.ResolveStep(c.Request.Context(), stepID,
		procurement.ApprovalDecision(req.Decision), actor, req.Comments, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
