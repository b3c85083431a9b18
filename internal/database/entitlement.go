package database

import (
	"time"

	"entitlement-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// UpsertEntitlement 创建或更新订阅权益
// Upserts the entitlement for (family_id, original_transaction_id) as a single
// atomic statement, so two concurrent renewals of the same subscription cannot
// fork into divergent rows. On conflict the existing entitlement_id is kept;
// state fields are replaced with the incoming values.
//
// A unique index on transaction_id backs the duplicate guard: a concurrent
// double-submit of the same transaction loses here with gorm.ErrDuplicatedKey.
func UpsertEntitlement(entitlement *models.Entitlement) (*models.Entitlement, error) {
	// Callers may pass a record loaded from the store (restore path). The
	// insert must not carry the primary key: PostgreSQL only absorbs conflicts
	// on the ON CONFLICT arbiter columns, so a populated id would raise a
	// duplicate-key error on the primary key index instead of updating.
	entitlement.ID = 0

	if entitlement.EntitlementID == "" {
		entitlement.EntitlementID = uuid.NewString()
	}
	if entitlement.LastValidatedAt.IsZero() {
		entitlement.LastValidatedAt = time.Now()
	}

	err := DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "family_id"}, {Name: "original_transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"transaction_id",
			"product_id",
			"purchase_date",
			"expiration_date",
			"is_active",
			"is_in_trial",
			"auto_renew_status",
			"environment",
			"last_validated_at",
			"grace_period_expires_at",
			"metadata",
			"latest_receipt",
			"updated_at",
		}),
	}).Create(entitlement).Error
	if err != nil {
		return nil, err
	}

	// Re-read so the caller sees the stored row, including the entitlement_id
	// minted by the first writer when this call hit the conflict path
	return GetEntitlement(entitlement.FamilyID, entitlement.OriginalTransactionID)
}

// GetEntitlement 通过复合键获取权益
func GetEntitlement(familyID, originalTransactionID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := DB.Where("family_id = ? AND original_transaction_id = ?", familyID, originalTransactionID).
		First(&entitlement).Error
	if err != nil {
		return nil, err
	}
	return &entitlement, nil
}

// GetEntitlementByTransactionID 通过交易ID获取权益
// Used by the duplicate guard: renewals legitimately reuse the original
// transaction ID but always mint a new transaction ID, so this lookup is by
// the exact per-transaction identifier.
func GetEntitlementByTransactionID(transactionID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := DB.Where("transaction_id = ?", transactionID).First(&entitlement).Error
	if err != nil {
		return nil, err
	}
	return &entitlement, nil
}

// GetActiveEntitlement 获取家庭的活跃权益
func GetActiveEntitlement(familyID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := DB.Where("family_id = ? AND is_active = ? AND expiration_date > ?",
		familyID, true, time.Now()).First(&entitlement).Error
	if err != nil {
		return nil, err
	}
	return &entitlement, nil
}

// GetFamilyEntitlements 获取家庭的所有权益
func GetFamilyEntitlements(familyID string) ([]models.Entitlement, error) {
	var entitlements []models.Entitlement
	err := DB.Where("family_id = ?", familyID).Order("created_at DESC").Find(&entitlements).Error
	return entitlements, err
}

// GetLatestEntitlementByFamily 获取家庭的最新权益（用于恢复购买）
func GetLatestEntitlementByFamily(familyID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := DB.Where("family_id = ?", familyID).
		Order("created_at DESC").
		First(&entitlement).Error
	if err != nil {
		return nil, err
	}
	return &entitlement, nil
}

// MarkEntitlementInactive 标记权益为失效
// Entitlements are never deleted, only flagged.
func MarkEntitlementInactive(familyID, originalTransactionID string) error {
	return DB.Model(&models.Entitlement{}).
		Where("family_id = ? AND original_transaction_id = ?", familyID, originalTransactionID).
		Updates(map[string]interface{}{
			"is_active":         false,
			"auto_renew_status": false,
		}).Error
}
