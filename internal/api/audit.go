package api

import (
	"net/http"
	"strconv"

	"entitlement-api/internal/database"
	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// GetAuditTrail returns validation audit records for a family, newest first.
// Off the hot path; used for fraud investigation.
// GET /api/admin/audit?family_id=xxx&limit=100
func (h *Handler) GetAuditTrail(c *gin.Context) {
	familyID := c.Query("family_id")
	if familyID == "" {
		response.BadRequestJSON(c, "family_id is required")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	logs, err := database.GetAuditLogsByFamily(familyID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to get audit records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
	})
}
