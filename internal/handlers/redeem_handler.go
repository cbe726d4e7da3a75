package handlers

import (
	"net/http"
	"strconv"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RedeemHandler exposes the token-to-fiat redemption API.
type RedeemHandler struct {
	redeems *services.RedeemService
	logger  *logrus.Logger
}

func NewRedeemHandler(redeems *services.RedeemService, logger *logrus.Logger) *RedeemHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedeemHandler{redeems: redeems, logger: logger}
}

type createRedeemRequest struct {
	UserWallet        string  `json:"user_wallet" binding:"required"`
	USDAmount         float64 `json:"usd_amount" binding:"required"`
	ChainID           int     `json:"chain_id" binding:"required"`
	PayoutMethod      string  `json:"payout_method" binding:"required"`
	PayoutDestination string  `json:"payout_destination" binding:"required"`
}

// Create handles POST /api/redeem: validate, persist, then drive the
// request synchronously through burn and payout. The response carries
// the terminal state; callers needing async semantics poll GET by id.
func (h *RedeemHandler) Create(c *gin.Context) {
	var req createRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Validation("invalid request body: %v", err))
		return
	}

	request, err := h.redeems.Create(c.Request.Context(), services.CreateRedeemParams{
		UserWallet:        req.UserWallet,
		USDAmount:         req.USDAmount,
		ChainID:           req.ChainID,
		PayoutMethod:      req.PayoutMethod,
		PayoutDestination: req.PayoutDestination,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	processed, err := h.redeems.Process(c.Request.Context(), request.ID)
	if err != nil {
		// The request row already holds the terminal state and error
		// message for later inspection via GET by id.
		h.logger.WithError(err).WithField("request_id", request.ID).Warn("redeem processing failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"redemption_id": processed.ID,
		"status":        string(processed.Status),
		"burn_tx_hash":  processed.BurnTxHash,
		"payout_id":     processed.PayoutID,
	})
}

// Get handles GET /api/redeem/:id/status.
func (h *RedeemHandler) Get(c *gin.Context) {
	request, err := h.redeems.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// Cancel handles POST /api/redeem/:id/cancel.
func (h *RedeemHandler) Cancel(c *gin.Context) {
	request, err := h.redeems.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redemption_id": request.ID,
		"status":        string(request.Status),
	})
}

// History handles GET /api/redeem/history/:wallet?page=1&page_size=20.
func (h *RedeemHandler) History(c *gin.Context) {
	wallet := c.Param("wallet")
	if !common.IsHexAddress(wallet) {
		writeError(c, apperrors.Validation("invalid wallet address %q", wallet))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	requests, total, err := h.redeems.History(c.Request.Context(), wallet, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redemptions": requests,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// Limits handles GET /api/redeem/limits/:wallet.
func (h *RedeemHandler) Limits(c *gin.Context) {
	wallet := c.Param("wallet")
	if !common.IsHexAddress(wallet) {
		writeError(c, apperrors.Validation("invalid wallet address %q", wallet))
		return
	}
	limits, err := h.redeems.Limits(c.Request.Context(), wallet)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}
