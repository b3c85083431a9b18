package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"gorm.io/gorm"
)

// ValidationService sequences the validation pipeline: structural decode,
// chain validation, signature verification, policy checks, the legacy receipt
// gateway, the duplicate guard, the entitlement write and the audit record.
// A failure at any stage short-circuits with that stage's error kind; nothing
// is written to the entitlement store before the duplicate guard passes.
type ValidationService struct {
	chainValidator    *CertificateChainValidator
	signatureVerifier *SignatureVerifier
	policy            *SecurityPolicy
	gateway           *ReceiptGateway
	replayCache       ReplayCache
	webhookNotifier   *WebhookNotifier
	fraudAlert        *FraudAlertService
}

// NewValidationService 创建验证编排服务
func NewValidationService(
	chainValidator *CertificateChainValidator,
	policy *SecurityPolicy,
	gateway *ReceiptGateway,
	replayCache ReplayCache,
) *ValidationService {
	return &ValidationService{
		chainValidator:    chainValidator,
		signatureVerifier: NewSignatureVerifier(),
		policy:            policy,
		gateway:           gateway,
		replayCache:       replayCache,
		webhookNotifier:   NewWebhookNotifier(),
		fraudAlert:        NewFraudAlertService(),
	}
}

// ValidationRequest carries the caller-supplied proof of purchase.
type ValidationRequest struct {
	TransactionData string
	ReceiptData     string
	ProductID       string
	FamilyID        string
}

// ValidateTransaction runs the full pipeline and records an audit entry for
// the outcome. The returned entitlement is the stored record.
func (s *ValidationService) ValidateTransaction(ctx context.Context, req *ValidationRequest) (*models.Entitlement, error) {
	entitlement, payload, err := s.validate(ctx, req)

	transactionID := ""
	productID := req.ProductID
	if payload != nil {
		transactionID = payload.TransactionID
		if payload.ProductID != "" {
			productID = payload.ProductID
		}
	}

	if err != nil {
		verr := apperrors.AsValidationError(err)

		eventType := models.EventReceiptRejected
		if verr.Kind == apperrors.KindDuplicateTransaction {
			eventType = models.EventDuplicateTransaction
		}
		s.audit(req.FamilyID, transactionID, productID, eventType, false, verr, payload)

		// A bad signature or broken chain on a well-formed token suggests a
		// forged proof; flag it for investigation
		switch verr.Kind {
		case apperrors.KindSignatureMismatch, apperrors.KindUntrustedIssuer, apperrors.KindCertificateExpired:
			go s.fraudAlert.SendFraudAlert(req.FamilyID, transactionID, string(verr.Kind), verr.Detail)
		}

		return nil, err
	}

	s.audit(req.FamilyID, entitlement.TransactionID, entitlement.ProductID,
		models.EventReceiptValidated, true, nil, payload)

	if config.AppConfig != nil && config.AppConfig.WebhookCallbackURL != "" {
		callbackURL := config.AppConfig.WebhookCallbackURL
		secret := config.AppConfig.WebhookSecret
		entCopy := *entitlement
		go s.webhookNotifier.NotifyEntitlementUpdate(callbackURL, secret, &entCopy)
	}

	return entitlement, nil
}

// validate runs the pipeline stages without audit bookkeeping.
func (s *ValidationService) validate(ctx context.Context, req *ValidationRequest) (*models.Entitlement, *models.TransactionPayload, error) {
	// Stage 1: structural parsing, no trust decisions
	decoded, err := DecodeSignedTransaction(req.TransactionData)
	if err != nil {
		return nil, nil, err
	}
	payload := decoded.Payload

	// Stage 2: certificate chain to the pinned root
	leaf, err := s.chainValidator.Validate(decoded.Header.X5C)
	if err != nil {
		return nil, payload, err
	}

	// Stage 3: the cryptographic trust boundary
	if err := s.signatureVerifier.Verify(decoded, leaf); err != nil {
		return nil, payload, err
	}

	// Stage 4: business trust rules on the now-verified payload
	if err := s.policy.Check(payload); err != nil {
		return nil, payload, err
	}

	// Stage 5: cross-check the legacy receipt with the vendor
	receipt, err := s.gateway.Verify(ctx, req.ReceiptData)
	if err != nil {
		return nil, payload, err
	}

	// Stage 6: duplicate guard. Authoritative store lookup first, then the
	// atomic cache claim that decides races between concurrent submissions.
	if existing, err := database.GetEntitlementByTransactionID(payload.TransactionID); err == nil {
		return nil, payload, duplicateError(existing.EntitlementID, payload.TransactionID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payload, apperrors.Wrap(err, apperrors.KindInternalError, "duplicate check failed")
	}

	first, err := s.replayCache.MarkProcessed(ctx, payload.TransactionID)
	if err != nil {
		return nil, payload, apperrors.Wrap(err, apperrors.KindInternalError, "replay cache unavailable")
	}
	if !first {
		existingID := s.awaitExistingEntitlementID(req.FamilyID, payload)
		return nil, payload, duplicateError(existingID, payload.TransactionID)
	}

	// Stage 7: atomic entitlement upsert
	entitlement := s.buildEntitlement(req, payload, receipt)
	stored, err := database.UpsertEntitlement(entitlement)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost an insert race on the transaction_id unique index
			existingID := ""
			if existing, lookupErr := database.GetEntitlementByTransactionID(payload.TransactionID); lookupErr == nil {
				existingID = existing.EntitlementID
			}
			return nil, payload, duplicateError(existingID, payload.TransactionID)
		}
		// The write failed for infrastructure reasons; release the cache claim
		// so the client's retry is not misreported as a duplicate
		if releaseErr := s.replayCache.Release(ctx, payload.TransactionID); releaseErr != nil {
			logging.Errorf("Failed to release replay cache entry for %s: %v", payload.TransactionID, releaseErr)
		}
		return nil, payload, apperrors.Wrap(err, apperrors.KindInternalError, "failed to save entitlement")
	}

	return stored, payload, nil
}

// awaitExistingEntitlementID resolves the entitlement written by the request
// that won the replay-cache claim for the same transaction. The winner may not
// have committed yet, so the lookup is retried briefly; after the window the
// duplicate is still reported, just without the existing identifier.
func (s *ValidationService) awaitExistingEntitlementID(familyID string, payload *models.TransactionPayload) string {
	const (
		attempts = 5
		backoff  = 50 * time.Millisecond
	)
	for i := 0; i < attempts; i++ {
		if existing, err := database.GetEntitlementByTransactionID(payload.TransactionID); err == nil {
			return existing.EntitlementID
		}
		if existing, err := database.GetEntitlement(familyID, payload.OriginalTransactionID); err == nil {
			return existing.EntitlementID
		}
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	return ""
}

// buildEntitlement assembles the entitlement record from the verified payload
// and the gateway result.
func (s *ValidationService) buildEntitlement(req *ValidationRequest, payload *models.TransactionPayload, receipt *ReceiptVerification) *models.Entitlement {
	metadata, err := json.Marshal(map[string]interface{}{
		"bundle_id":            payload.BundleID,
		"app_account_token":    payload.AppAccountToken,
		"in_app_ownership":     payload.InAppOwnershipType,
		"offer_type":           payload.OfferType,
		"gateway_environment":  receipt.Environment,
		"requested_product_id": req.ProductID,
	})
	if err != nil {
		metadata = []byte("{}")
	}

	return &models.Entitlement{
		FamilyID:              req.FamilyID,
		OriginalTransactionID: payload.OriginalTransactionID,
		TransactionID:         payload.TransactionID,
		ProductID:             payload.ProductID,
		PurchaseDate:          payload.PurchaseDate(),
		ExpirationDate:        payload.ExpiresDate(),
		IsActive:              true,
		IsInTrial:             payload.IsTrialPeriod() || receipt.IsTrialPeriod,
		AutoRenewStatus:       receipt.AutoRenewStatus,
		Environment:           strings.ToLower(payload.Environment),
		LastValidatedAt:       time.Now(),
		Metadata:              string(metadata),
		LatestReceipt:         receipt.LatestReceipt,
	}
}

// RestoreEntitlement re-validates the stored latest receipt for a family
// through the vendor gateway and refreshes the entitlement record.
func (s *ValidationService) RestoreEntitlement(ctx context.Context, familyID string) (*models.Entitlement, error) {
	entitlement, err := database.GetLatestEntitlementByFamily(familyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindReceiptRejected, "no entitlement on record for this family")
		}
		return nil, apperrors.Wrap(err, apperrors.KindInternalError, "entitlement lookup failed")
	}
	if entitlement.LatestReceipt == "" {
		return nil, apperrors.New(apperrors.KindReceiptRejected, "no stored receipt available for restore")
	}

	receipt, err := s.gateway.Verify(ctx, entitlement.LatestReceipt)
	if err != nil {
		verr := apperrors.AsValidationError(err)
		s.audit(familyID, entitlement.TransactionID, entitlement.ProductID,
			models.EventRestoreAttempted, false, verr, nil)
		return nil, err
	}

	entitlement.TransactionID = receipt.TransactionID
	entitlement.ProductID = receipt.ProductID
	entitlement.PurchaseDate = receipt.PurchaseDate
	entitlement.ExpirationDate = receipt.ExpiresDate
	entitlement.IsActive = receipt.ExpiresDate.After(time.Now())
	entitlement.IsInTrial = receipt.IsTrialPeriod
	entitlement.AutoRenewStatus = receipt.AutoRenewStatus
	entitlement.Environment = strings.ToLower(receipt.Environment)
	entitlement.LastValidatedAt = time.Now()
	entitlement.LatestReceipt = receipt.LatestReceipt

	stored, err := database.UpsertEntitlement(entitlement)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternalError, "failed to refresh entitlement")
	}

	s.audit(familyID, stored.TransactionID, stored.ProductID, models.EventRestoreAttempted, true, nil, nil)
	return stored, nil
}

// audit appends a validation audit record. Best-effort: failures are logged
// and never propagate, so the audit trail can never mask a validation result.
func (s *ValidationService) audit(familyID, transactionID, productID, eventType string, success bool, verr *apperrors.ValidationError, payload *models.TransactionPayload) {
	record := &models.ValidationAuditLog{
		FamilyID:      familyID,
		TransactionID: transactionID,
		ProductID:     productID,
		EventType:     eventType,
		Success:       success,
		RequestTime:   time.Now(),
	}

	if verr != nil {
		record.ErrorKind = string(verr.Kind)
		record.Detail = verr.Detail
	}

	snapshot := map[string]interface{}{}
	if payload != nil {
		snapshot["original_transaction_id"] = payload.OriginalTransactionID
		snapshot["bundle_id"] = payload.BundleID
		snapshot["environment"] = payload.Environment
		snapshot["expires_date"] = payload.ExpiresDate().Format(time.RFC3339)
	}
	if contextJSON, err := json.Marshal(snapshot); err == nil {
		record.Context = string(contextJSON)
	}

	if err := database.AppendAuditLog(record); err != nil {
		logging.Warnf("Failed to append audit log - family: %s, transaction: %s, error: %v",
			familyID, transactionID, err)
	}
}

func duplicateError(entitlementID, transactionID string) *apperrors.ValidationError {
	verr := apperrors.Newf(apperrors.KindDuplicateTransaction,
		"transaction %s has already been processed", transactionID)
	verr.EntitlementID = entitlementID
	return verr
}
