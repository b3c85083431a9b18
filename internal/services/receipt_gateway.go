package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/config"
	"entitlement-api/pkg/logging"
)

const (
	productionVerifyURL = "https://buy.itunes.apple.com/verifyReceipt"
	sandboxVerifyURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// Status Apple returns when a sandbox receipt is posted to production
	statusSandboxReceipt = 21007
)

// ReceiptGateway calls the vendor's legacy verifyReceipt endpoint, falling
// back to the sandbox endpoint when production reports a sandbox receipt.
type ReceiptGateway struct {
	httpClient    *http.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
}

// NewReceiptGateway 创建收据验证网关
func NewReceiptGateway() *ReceiptGateway {
	timeout := 30 * time.Second
	secret := ""
	if config.AppConfig != nil {
		if config.AppConfig.GatewayTimeoutSeconds > 0 {
			timeout = time.Duration(config.AppConfig.GatewayTimeoutSeconds) * time.Second
		}
		secret = config.AppConfig.AppStoreSharedSecret
	}
	return &ReceiptGateway{
		httpClient:    &http.Client{Timeout: timeout},
		productionURL: productionVerifyURL,
		sandboxURL:    sandboxVerifyURL,
		sharedSecret:  secret,
	}
}

// receiptResponse represents the verifyReceipt response envelope
type receiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string `json:"bundle_id"`
	} `json:"receipt"`
	LatestReceipt     string `json:"latest_receipt"`
	LatestReceiptInfo []struct {
		TransactionID         string `json:"transaction_id"`
		OriginalTransactionID string `json:"original_transaction_id"`
		ProductID             string `json:"product_id"`
		PurchaseDateMS        string `json:"purchase_date_ms"`
		ExpiresDateMS         string `json:"expires_date_ms"`
		IsTrialPeriod         string `json:"is_trial_period"`
	} `json:"latest_receipt_info"`
	PendingRenewalInfo []struct {
		AutoRenewStatus string `json:"auto_renew_status"`
	} `json:"pending_renewal_info"`
}

// ReceiptVerification is the gateway's success result
type ReceiptVerification struct {
	Environment           string
	BundleID              string
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	PurchaseDate          time.Time
	ExpiresDate           time.Time
	IsTrialPeriod         bool
	AutoRenewStatus       bool
	LatestReceipt         string
	RawResponse           string
}

// Verify posts the receipt to the production endpoint and retries once
// against sandbox when production reports status 21007.
//
// Error split matters to callers: ReceiptRejected (vendor says invalid, do not
// retry) versus GatewayUnavailable (transport/decoding failure, retryable).
func (g *ReceiptGateway) Verify(ctx context.Context, receiptData string) (*ReceiptVerification, error) {
	result, err := g.verifyWithEndpoint(ctx, g.productionURL, receiptData)
	if err != nil {
		verr := apperrors.AsValidationError(err)
		if verr.Kind == apperrors.KindReceiptRejected && verr.VendorStatus == statusSandboxReceipt {
			logging.Infof("Receipt is from sandbox, retrying with sandbox URL")
			return g.verifyWithEndpoint(ctx, g.sandboxURL, receiptData)
		}
		return nil, err
	}
	return result, nil
}

// verifyWithEndpoint performs a single verifyReceipt call.
func (g *ReceiptGateway) verifyWithEndpoint(ctx context.Context, url, receiptData string) (*ReceiptVerification, error) {
	requestBody := map[string]interface{}{
		"receipt-data": receiptData,
	}
	if g.sharedSecret != "" {
		requestBody["password"] = g.sharedSecret
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternalError, "failed to marshal verifyReceipt request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternalError, "failed to create verifyReceipt request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindGatewayUnavailable, "verifyReceipt request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindGatewayUnavailable, "failed to read verifyReceipt response")
	}

	var parsed receiptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindGatewayUnavailable, "failed to parse verifyReceipt response")
	}

	if parsed.Status != 0 {
		verr := apperrors.Newf(apperrors.KindReceiptRejected,
			"vendor rejected receipt with status %d", parsed.Status)
		verr.VendorStatus = parsed.Status
		return nil, verr
	}

	if len(parsed.LatestReceiptInfo) == 0 {
		return nil, apperrors.New(apperrors.KindReceiptRejected, "no subscription found in receipt")
	}

	// The last entry is the most recent renewal
	latest := parsed.LatestReceiptInfo[len(parsed.LatestReceiptInfo)-1]

	purchaseDate, err := parseMillisTimestamp(latest.PurchaseDateMS)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindGatewayUnavailable, "failed to parse purchase date")
	}
	expiresDate, err := parseMillisTimestamp(latest.ExpiresDateMS)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindGatewayUnavailable, "failed to parse expires date")
	}

	autoRenew := true // default, refined from pending_renewal_info when present
	if len(parsed.PendingRenewalInfo) > 0 {
		autoRenew = parsed.PendingRenewalInfo[0].AutoRenewStatus == "1"
	}

	return &ReceiptVerification{
		Environment:           parsed.Environment,
		BundleID:              parsed.Receipt.BundleID,
		TransactionID:         latest.TransactionID,
		OriginalTransactionID: latest.OriginalTransactionID,
		ProductID:             latest.ProductID,
		PurchaseDate:          purchaseDate,
		ExpiresDate:           expiresDate,
		IsTrialPeriod:         latest.IsTrialPeriod == "true",
		AutoRenewStatus:       autoRenew,
		LatestReceipt:         parsed.LatestReceipt,
		RawResponse:           string(body),
	}, nil
}

// parseMillisTimestamp parses a milliseconds-since-epoch string.
func parseMillisTimestamp(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
