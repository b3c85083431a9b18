package database

import (
	"entitlement-api/internal/models"

	"github.com/google/uuid"
)

// AppendAuditLog 追加验证审计记录
// Records are append-only; callers treat failures as best-effort and never
// roll back an entitlement write because the audit insert failed.
func AppendAuditLog(log *models.ValidationAuditLog) error {
	if log.EventID == "" {
		log.EventID = uuid.NewString()
	}
	return DB.Create(log).Error
}

// GetAuditLogsByFamily 获取家庭的审计记录（用于欺诈调查）
func GetAuditLogsByFamily(familyID string, limit int) ([]models.ValidationAuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.ValidationAuditLog
	err := DB.Where("family_id = ?", familyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// GetAuditLogsByTransaction 获取交易的审计记录
func GetAuditLogsByTransaction(transactionID string) ([]models.ValidationAuditLog, error) {
	var logs []models.ValidationAuditLog
	err := DB.Where("transaction_id = ?", transactionID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}
