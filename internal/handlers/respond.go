package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bridge-backend/internal/apperrors"

	"github.com/gin-gonic/gin"
)

// writeError maps a classified error onto an HTTP response. Untyped
// errors become opaque 500s so internals never leak to clients.
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperrors.KindValidation, apperrors.KindSignature:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindRateLimited, apperrors.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case apperrors.KindLimitExceeded, apperrors.KindInsufficientBalance:
		status = http.StatusUnprocessableEntity
	case apperrors.KindChain, apperrors.KindReconciliationRequired:
		status = http.StatusBadGateway
	}

	if !appErr.RetryAfter.IsZero() {
		seconds := int(time.Until(appErr.RetryAfter).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	c.JSON(status, gin.H{
		"error": appErr.Message,
		"kind":  string(appErr.Kind),
	})
}
