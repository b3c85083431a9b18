package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"entitlement-api/internal/config"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware provides API key authentication for backend-facing routes
func APIKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")

		// If not passed via header, try to get from query parameters
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		expected := ""
		if config.AppConfig != nil {
			expected = config.AppConfig.APIKey
		}

		if expected == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": "API key authentication is not configured",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
