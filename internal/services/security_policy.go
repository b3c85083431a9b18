package services

import (
	"strings"
	"time"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/models"
)

// maxClockSkew is how far into the future a signing timestamp may sit before
// it is treated as forged rather than as clock drift.
const maxClockSkew = 5 * time.Minute

// SecurityPolicy applies business-level trust rules to a cryptographically
// verified payload. These are tunable tolerances, not cryptographic checks.
type SecurityPolicy struct {
	// BundleID is the expected application identity; the payload's bundleId
	// must contain it.
	BundleID string

	// ReplayWindow is the maximum tolerated age of the signing timestamp.
	ReplayWindow time.Duration
}

// NewSecurityPolicy 创建交易安全策略
func NewSecurityPolicy(bundleID string, replayWindow time.Duration) *SecurityPolicy {
	if replayWindow <= 0 {
		replayWindow = time.Hour
	}
	return &SecurityPolicy{
		BundleID:     bundleID,
		ReplayWindow: replayWindow,
	}
}

// Check validates the payload against every policy rule. Each failure maps to
// SecurityPolicyViolation with the violated rule in the detail.
func (p *SecurityPolicy) Check(payload *models.TransactionPayload) error {
	now := time.Now()

	// Freshness: reject stale proofs to bound the replay window. Skipped when
	// the vendor did not include signedDate.
	if signedDate := payload.SignedDate(); !signedDate.IsZero() {
		if now.Sub(signedDate) > p.ReplayWindow {
			return apperrors.Newf(apperrors.KindSecurityPolicyViolation,
				"signedDate is older than the replay window (%s)", p.ReplayWindow)
		}
		if signedDate.Sub(now) > maxClockSkew {
			return apperrors.New(apperrors.KindSecurityPolicyViolation,
				"signedDate is in the future")
		}
	}

	// The transaction must represent live entitlement, not one already expired
	if payload.ExpiresDateMS == 0 {
		return apperrors.New(apperrors.KindSecurityPolicyViolation, "expiresDate is missing")
	}
	if !payload.ExpiresDate().After(now) {
		return apperrors.New(apperrors.KindSecurityPolicyViolation,
			"transaction is already expired at validation time")
	}

	// Application identity
	if p.BundleID != "" && !strings.Contains(payload.BundleID, p.BundleID) {
		return apperrors.Newf(apperrors.KindSecurityPolicyViolation,
			"bundleId %q does not match expected application identity", payload.BundleID)
	}

	// Environment must be one Apple actually issues
	switch strings.ToLower(payload.Environment) {
	case "production", "sandbox":
	default:
		return apperrors.Newf(apperrors.KindSecurityPolicyViolation,
			"unknown environment %q", payload.Environment)
	}

	return nil
}
