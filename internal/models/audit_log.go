package models

import (
	"time"
)

// Audit event types written by the validation pipeline.
const (
	EventReceiptValidated     = "receipt_validated"
	EventReceiptRejected      = "receipt_rejected"
	EventDuplicateTransaction = "duplicate_transaction"
	EventRestoreAttempted     = "restore_attempted"
)

// ValidationAuditLog 验证审计日志
// Append-only record of every validation attempt. Immutable after write and
// never read by the validation hot path; queried only for fraud investigation.
type ValidationAuditLog struct {
	BaseModel

	EventID       string `json:"event_id" gorm:"size:36;uniqueIndex"`
	FamilyID      string `json:"family_id" gorm:"size:100;index"`
	TransactionID string `json:"transaction_id" gorm:"size:100;index"`
	ProductID     string `json:"product_id" gorm:"size:100"`

	EventType string `json:"event_type" gorm:"not null;size:40;index"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind" gorm:"size:40"`
	Detail    string `json:"detail" gorm:"size:500"`

	// Serialized snapshot of request context (JSON)
	Context string `json:"context" gorm:"type:text"`

	RequestTime time.Time `json:"request_time"`
}

// TableName 指定表名
func (ValidationAuditLog) TableName() string {
	return "validation_audit_logs"
}
