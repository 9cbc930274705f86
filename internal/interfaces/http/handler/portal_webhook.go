package handler

import (
	"io"
	"net/http"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/infrastructure/portal"
	"github.com/gin-gonic/gin"
)

// PortalWebhookHandler receives signed supplier messages. It authenticates by
// HMAC signature rather than JWT and answers with the raw acknowledgment document.
type PortalWebhookHandler struct {
	BaseHandler
	receiver PortalReceiver
}

// NewPortalWebhookHandler creates a new PortalWebhookHandler
func NewPortalWebhookHandler(receiver PortalReceiver) *PortalWebhookHandler {
	return &PortalWebhookHandler{receiver: receiver}
}

// Receive handles POST /portal/messages. Replays get the stored acknowledgment
// byte for byte, flagged with the X-Idempotent-Replay header.
func (h *PortalWebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.receiver.Receive(c.Request.Context(), appprocurement.InboundMessage{
		SupplierRef:   c.GetHeader(portal.HeaderSupplier),
		Signature:     c.GetHeader(portal.HeaderSignature),
		Timestamp:     c.GetHeader(portal.HeaderTimestamp),
		MessageID:     c.GetHeader(portal.HeaderMessageID),
		CorrelationID: c.GetHeader(portal.HeaderCorrelationID),
		OriginIP:      c.ClientIP(),
		Body:          body,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if result.Duplicate {
		c.Header(portal.HeaderReplay, "true")
	}
	c.Data(http.StatusOK, "application/json", result.Body)
}
