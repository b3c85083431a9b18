package api

import (
	"entitlement-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	// API route group
	api := r.Group("/api")
	{
		// Subscription routes (client API)
		subscription := api.Group("/subscription")
		{
			subscription.POST("/validate", h.ValidateSubscription)
			subscription.GET("/status", h.GetSubscriptionStatus)
			subscription.POST("/restore", h.RestoreSubscription)
		}

		// Admin routes (backend API, requires API key)
		admin := api.Group("/admin")
		admin.Use(middleware.APIKeyMiddleware())
		{
			admin.GET("/audit", h.GetAuditTrail)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "entitlement-service",
		})
	})
}
