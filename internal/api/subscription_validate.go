package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ValidateSubscriptionRequest represents the validate subscription request
type ValidateSubscriptionRequest struct {
	TransactionData string `json:"transaction_data" binding:"required"` // Signed JWS transaction
	ReceiptData     string `json:"receipt_data" binding:"required"`     // Base64 legacy receipt blob
	ProductID       string `json:"product_id" binding:"required"`       // Product being claimed
	FamilyID        string `json:"family_id" binding:"required"`        // Family account identifier
}

// ValidateSubscriptionResponse represents the validate subscription response
type ValidateSubscriptionResponse struct {
	Success        bool   `json:"success"`
	EntitlementID  string `json:"entitlement_id"`
	IsActive       bool   `json:"is_active"`
	ExpirationDate string `json:"expiration_date"`
	ProductID      string `json:"product_id"`
	IsInTrial      bool   `json:"is_in_trial"`
}

// ValidateSubscription validates a signed purchase transaction and records
// the resulting entitlement
// POST /api/subscription/validate
func (h *Handler) ValidateSubscription(c *gin.Context) {
	var req ValidateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestJSON(c, "Invalid request format: "+err.Error())
		return
	}

	entitlement, err := h.validation.ValidateTransaction(c.Request.Context(), &services.ValidationRequest{
		TransactionData: req.TransactionData,
		ReceiptData:     req.ReceiptData,
		ProductID:       req.ProductID,
		FamilyID:        req.FamilyID,
	})
	if err != nil {
		logging.Errorf("Validation failed - family: %s, product: %s, error: %v", req.FamilyID, req.ProductID, err)
		response.ValidationErrorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, ValidateSubscriptionResponse{
		Success:        true,
		EntitlementID:  entitlement.EntitlementID,
		IsActive:       entitlement.IsActive,
		ExpirationDate: entitlement.ExpirationDate.Format(time.RFC3339),
		ProductID:      entitlement.ProductID,
		IsInTrial:      entitlement.IsInTrial,
	})
}
