package router

import (
	"net/http"
	"strings"

	"bridge-backend/internal/config"
	"bridge-backend/internal/handlers"
	"bridge-backend/internal/middleware"
	"bridge-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Webhook-Signature")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Handlers groups the HTTP surface wired by SetupRouter.
type Handlers struct {
	Webhook *handlers.WebhookHandler
	Redeem  *handlers.RedeemHandler
	Reserve *handlers.ReserveHandler
	Admin   *handlers.AdminHandler
}

// SetupRouter builds the gin engine with all routes and middleware.
func SetupRouter(cfg *config.Config, h Handlers, pusher *services.StatusPushService, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "bridge-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider payment callbacks.
	r.POST("/webhooks/:provider", h.Webhook.Receive)

	// Live status stream for mints, redeems and reserve snapshots.
	r.GET("/ws/status", func(c *gin.Context) {
		pusher.HandleConnection(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		redeem := api.Group("/redeem")
		{
			redeem.POST("", h.Redeem.Create)
			redeem.GET("/history/:wallet", h.Redeem.History)
			redeem.GET("/limits/:wallet", h.Redeem.Limits)
			redeem.GET("/:id/status", h.Redeem.Get)
			redeem.POST("/:id/cancel", h.Redeem.Cancel)
		}

		por := api.Group("/por")
		{
			por.GET("/latest", h.Reserve.Latest)
			por.GET("/history", h.Reserve.History)
			por.POST("/update", middleware.RequireAPIKey(cfg.Admin.APIKey, logger), h.Reserve.Update)
		}

		adminAuth := middleware.NewAdminAuthMiddleware(cfg.Admin.JWTSecret, logger)
		admin := api.Group("/admin", adminAuth.RequireAdmin())
		{
			admin.GET("/mints/:id", h.Admin.GetMint)
			admin.POST("/mints/:id/retry", h.Admin.RetryMint)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return r
}
