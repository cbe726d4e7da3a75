package handlers

import (
	"io"
	"net/http"

	"bridge-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody caps provider payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider payment callbacks.
type WebhookHandler struct {
	webhooks *services.WebhookService
	logger   *logrus.Logger
}

func NewWebhookHandler(webhooks *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// Receive handles POST /webhooks/:provider. The raw body is read before
// any decoding because the HMAC covers the exact bytes sent. Duplicates
// and ignored event types are acknowledged 200 so the provider stops
// retrying; only signature and decoding failures reject the delivery.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	header, err := h.webhooks.SignatureHeader(provider)
	if err != nil {
		writeError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := h.webhooks.Ingest(c.Request.Context(), provider, payload, c.GetHeader(header))
	if err != nil {
		writeError(c, err)
		return
	}

	response := gin.H{
		"status":   string(result.Outcome),
		"event_id": result.EventID,
	}
	if result.ReceiptID != "" {
		response["receipt_id"] = result.ReceiptID
	}
	c.JSON(http.StatusOK, response)
}
