package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// AuditLogModel 管理操作审计日志(部门、公开链接、登录等不属于维修单事件流的操作)
type AuditLogModel struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID       string         `gorm:"type:varchar(64);not null;index" json:"userId"`
	Action       string         `gorm:"type:varchar(64);not null;index" json:"action"`
	ResourceType string         `gorm:"type:varchar(32);not null" json:"resourceType"` // repair/department/user
	ResourceID   string         `gorm:"type:varchar(64);not null;index" json:"resourceId"`
	RequestID    string         `gorm:"type:varchar(64);index" json:"requestId,omitempty"`
	IP           string         `gorm:"type:varchar(45)" json:"ip,omitempty"`
	UserAgent    string         `gorm:"type:text" json:"userAgent,omitempty"`
	Details      datatypes.JSON `gorm:"type:json" json:"details,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"createdAt"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// Validate 验证审计日志模型
func (alm *AuditLogModel) Validate() error {
	if alm.ID == "" {
		return errors.New("audit log ID is required")
	}
	if alm.UserID == "" {
		return errors.New("user ID is required")
	}
	if alm.Action == "" {
		return errors.New("action is required")
	}
	if alm.ResourceType == "" {
		return errors.New("resource type is required")
	}
	if alm.ResourceID == "" {
		return errors.New("resource ID is required")
	}
	return nil
}
