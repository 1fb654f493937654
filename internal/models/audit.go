package models

import "time"

type AuditLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ActorID     uint      `gorm:"not null;index" json:"actor_id"`
	Action      string    `gorm:"type:varchar(100);not null" json:"action"`
	Resource    string    `gorm:"type:varchar(100);not null;index:idx_audit_resource,priority:1" json:"resource"`
	ResourceID  uint      `gorm:"index:idx_audit_resource,priority:2" json:"resource_id"`
	OldValue    string    `gorm:"type:text" json:"old_value"`
	NewValue    string    `gorm:"type:text" json:"new_value"`
	Description string    `gorm:"type:text" json:"description"`
	BatchID     string    `gorm:"type:varchar(36);index" json:"batch_id,omitempty"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
