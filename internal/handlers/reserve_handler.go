package handlers

import (
	"net/http"
	"strconv"

	"bridge-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReserveHandler exposes the proof-of-reserves API.
type ReserveHandler struct {
	reserves *services.ReserveService
	logger   *logrus.Logger
}

func NewReserveHandler(reserves *services.ReserveService, logger *logrus.Logger) *ReserveHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ReserveHandler{reserves: reserves, logger: logger}
}

// Latest handles GET /api/por/latest.
func (h *ReserveHandler) Latest(c *gin.Context) {
	snapshot, err := h.reserves.Latest(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// History handles GET /api/por/history?limit=30.
func (h *ReserveHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	snapshots, err := h.reserves.History(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// Update handles POST /api/por/update: an out-of-schedule snapshot run,
// gated by API key middleware.
func (h *ReserveHandler) Update(c *gin.Context) {
	snapshot, err := h.reserves.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("on-demand reserve snapshot failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
