package handler

import (
	appevent "github.com/erp/procurement/internal/application/event"
	"github.com/gin-gonic/gin"
)

// OutboxHandler is the operator view of the notification outbox
type OutboxHandler struct {
	BaseHandler
	outbox OutboxAdmin
}

// NewOutboxHandler creates a new OutboxHandler
func NewOutboxHandler(outbox OutboxAdmin) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// Stats handles GET /admin/outbox/stats
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// DeadLetters handles GET /admin/outbox/dead-letters
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var filter appevent.OutboxFilter
	if !h.BindQuery(c, &filter) {
		return
	}
	page, err := h.outbox.DeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Retry handles POST /admin/outbox/dead-letters/:id/retry
func (h *OutboxHandler) Retry(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outbox.RetryDeadEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryAll handles POST /admin/outbox/dead-letters/retry
func (h *OutboxHandler) RetryAll(c *gin.Context) {
	n, err := h.outbox.RetryAllDeadEntries(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"reset": n})
}
