package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// outbox 状态
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxModel 待分发的通知,与维修单写入同一事务
type OutboxModel struct {
	ID            string         `gorm:"primaryKey;type:varchar(64)"`
	RepairID      string         `gorm:"type:varchar(64);index"`
	Kind          string         `gorm:"type:varchar(32);not null"` // repair.created/repair.updated/...
	Payload       datatypes.JSON `gorm:"not null"`
	Status        string         `gorm:"type:varchar(16);not null;default:'pending';index"`
	RetryCount    int            `gorm:"type:int;default:0"`
	LastError     string         `gorm:"type:text"`
	NextAttemptAt time.Time      `gorm:"not null;index"`
	CreatedAt     time.Time      `gorm:"not null;index"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (OutboxModel) TableName() string {
	return "notification_outbox"
}

// Validate 验证 outbox 记录
func (om *OutboxModel) Validate() error {
	if om.ID == "" {
		return errors.New("outbox ID is required")
	}
	if om.Kind == "" {
		return errors.New("outbox kind is required")
	}
	if len(om.Payload) == 0 {
		return errors.New("outbox payload is required")
	}
	if om.Status == "" {
		om.Status = OutboxPending
	}
	return nil
}
