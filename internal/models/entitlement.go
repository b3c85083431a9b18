package models

import (
	"time"
)

// Entitlement 订阅权益模型
// One row per subscription lineage, keyed by (family_id, original_transaction_id).
// Renewals update the row in place and replace transaction_id with the latest
// one; rows are never deleted, only marked inactive or expired.
type Entitlement struct {
	BaseModel

	// Stable external identifier, minted on first insert and never rewritten
	EntitlementID string `json:"entitlement_id" gorm:"not null;size:36;uniqueIndex"`

	// Compound key fields
	FamilyID              string `json:"family_id" gorm:"not null;size:100;uniqueIndex:idx_family_original"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"not null;size:100;uniqueIndex:idx_family_original"`

	// Latest transaction that touched this entitlement. Unique globally so a
	// transaction can be redeemed at most once.
	TransactionID string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"`

	// Product and state fields
	ProductID       string    `json:"product_id" gorm:"size:100"`
	PurchaseDate    time.Time `json:"purchase_date"`
	ExpirationDate  time.Time `json:"expiration_date" gorm:"index"`
	IsActive        bool      `json:"is_active" gorm:"index"`
	IsInTrial       bool      `json:"is_in_trial"`
	AutoRenewStatus bool      `json:"auto_renew_status"`
	Environment     string    `json:"environment" gorm:"size:20"` // sandbox or production

	// Validation bookkeeping
	LastValidatedAt      time.Time  `json:"last_validated_at"`
	GracePeriodExpiresAt *time.Time `json:"grace_period_expires_at,omitempty"`

	// Opaque context captured at validation time (JSON)
	Metadata string `json:"metadata" gorm:"type:text"`

	// Latest legacy receipt blob (used for restore)
	LatestReceipt string `json:"latest_receipt" gorm:"type:text"`
}

// TableName 指定表名
func (Entitlement) TableName() string {
	return "entitlements"
}
