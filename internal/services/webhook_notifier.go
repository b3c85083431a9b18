package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// WebhookNotifier handles webhook notifications to the family app backend
type WebhookNotifier struct {
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookPayload represents the payload sent to the app backend
type WebhookPayload struct {
	Event                 string `json:"event"` // e.g., "entitlement.updated"
	EntitlementID         string `json:"entitlement_id"`
	FamilyID              string `json:"family_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	IsActive              bool   `json:"is_active"`
	ExpirationDate        string `json:"expiration_date"` // ISO 8601 format
	Timestamp             string `json:"timestamp"`       // ISO 8601 format
}

// NotifyEntitlementUpdate sends a webhook notification to the app backend.
// Called asynchronously (in goroutine) to avoid blocking the validation path.
func (wn *WebhookNotifier) NotifyEntitlementUpdate(callbackURL, secret string, entitlement *models.Entitlement) {
	if callbackURL == "" {
		// No webhook configured, skip
		return
	}

	payload := WebhookPayload{
		Event:                 "entitlement.updated",
		EntitlementID:         entitlement.EntitlementID,
		FamilyID:              entitlement.FamilyID,
		TransactionID:         entitlement.TransactionID,
		OriginalTransactionID: entitlement.OriginalTransactionID,
		ProductID:             entitlement.ProductID,
		IsActive:              entitlement.IsActive,
		ExpirationDate:        entitlement.ExpirationDate.Format(time.RFC3339),
		Timestamp:             time.Now().Format(time.RFC3339),
	}

	wn.sendWithRetry(callbackURL, secret, payload)
}

// sendWithRetry sends webhook with retry mechanism
// Retry schedule: 1s, 5s, 30s (3 attempts total)
func (wn *WebhookNotifier) sendWithRetry(callbackURL, secret string, payload WebhookPayload) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	maxRetries := len(retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Webhook notification sent - url: %s, entitlement: %s, attempt: %d",
				callbackURL, payload.EntitlementID, attempt+1)
			return
		}

		logging.Warnf("Webhook notification failed - url: %s, entitlement: %s, attempt: %d, error: %v",
			callbackURL, payload.EntitlementID, attempt+1, err)

		// If not the last attempt, wait before retry
		if attempt < maxRetries-1 {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook notification failed after %d attempts - url: %s, entitlement: %s",
		maxRetries, callbackURL, payload.EntitlementID)
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(callbackURL, secret string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EntitlementService-Webhook/1.0")

	// Add signature if secret is provided
	if secret != "" {
		signature := wn.generateSignature(jsonData, secret)
		req.Header.Set("X-Entitlement-Signature", signature)
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func (wn *WebhookNotifier) generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
