package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// SubscriptionStatusResponse represents the subscription status response
type SubscriptionStatusResponse struct {
	Success        bool   `json:"success"`
	IsActive       bool   `json:"is_active"`
	EntitlementID  string `json:"entitlement_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	IsInTrial      bool   `json:"is_in_trial,omitempty"`
	AutoRenew      bool   `json:"auto_renew,omitempty"`
}

// GetSubscriptionStatus returns the active entitlement for a family
// GET /api/subscription/status?family_id=xxx
func (h *Handler) GetSubscriptionStatus(c *gin.Context) {
	familyID := c.Query("family_id")
	if familyID == "" {
		response.BadRequestJSON(c, "family_id is required")
		return
	}

	entitlement, err := database.GetActiveEntitlement(familyID)
	if err != nil {
		// No active entitlement on record
		c.JSON(http.StatusOK, SubscriptionStatusResponse{
			Success:  true,
			IsActive: false,
		})
		return
	}

	c.JSON(http.StatusOK, SubscriptionStatusResponse{
		Success:        true,
		IsActive:       entitlement.IsActive && entitlement.ExpirationDate.After(time.Now()),
		EntitlementID:  entitlement.EntitlementID,
		ProductID:      entitlement.ProductID,
		ExpirationDate: entitlement.ExpirationDate.Format(time.RFC3339),
		IsInTrial:      entitlement.IsInTrial,
		AutoRenew:      entitlement.AutoRenewStatus,
	})
}
