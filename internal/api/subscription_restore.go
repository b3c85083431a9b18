package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/response"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// RestoreSubscriptionRequest represents the restore subscription request
type RestoreSubscriptionRequest struct {
	FamilyID string `json:"family_id" binding:"required"`
}

// RestoreSubscriptionResponse represents the restore subscription response
type RestoreSubscriptionResponse struct {
	Success        bool   `json:"success"`
	EntitlementID  string `json:"entitlement_id"`
	IsActive       bool   `json:"is_active"`
	ExpirationDate string `json:"expiration_date"`
	ProductID      string `json:"product_id"`
}

// RestoreSubscription re-validates the stored receipt for a family and
// refreshes the entitlement record
// POST /api/subscription/restore
func (h *Handler) RestoreSubscription(c *gin.Context) {
	var req RestoreSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestJSON(c, "Invalid request format: "+err.Error())
		return
	}

	entitlement, err := h.validation.RestoreEntitlement(c.Request.Context(), req.FamilyID)
	if err != nil {
		logging.Errorf("Restore failed - family: %s, error: %v", req.FamilyID, err)
		response.ValidationErrorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, RestoreSubscriptionResponse{
		Success:        true,
		EntitlementID:  entitlement.EntitlementID,
		IsActive:       entitlement.IsActive,
		ExpirationDate: entitlement.ExpirationDate.Format(time.RFC3339),
		ProductID:      entitlement.ProductID,
	})
}
