package handlers

import (
	"net/http"

	"bridge-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler exposes operator actions, gated by JWT middleware.
type AdminHandler struct {
	mints  *services.MintService
	logger *logrus.Logger
}

func NewAdminHandler(mints *services.MintService, logger *logrus.Logger) *AdminHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AdminHandler{mints: mints, logger: logger}
}

// RetryMint handles POST /api/admin/mints/:id/retry: re-enters a failed
// receipt into the pipeline. Only failed receipts are eligible.
func (h *AdminHandler) RetryMint(c *gin.Context) {
	receiptID := c.Param("id")
	h.logger.WithFields(logrus.Fields{
		"receipt_id": receiptID,
		"operator":   c.GetString("admin_subject"),
	}).Info("operator mint retry requested")

	receipt, err := h.mints.Retry(c.Request.Context(), receiptID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"receipt_id": receipt.ID,
		"status":     string(receipt.Status),
		"tx_hash":    receipt.TxHash,
	})
}

// GetMint handles GET /api/admin/mints/:id.
func (h *AdminHandler) GetMint(c *gin.Context) {
	receipt, err := h.mints.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
