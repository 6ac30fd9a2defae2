package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 通知类型
const (
	NotificationInfo   = "info"
	NotificationRepair = "repair"
	NotificationChat   = "chat"
)

// NotificationModel 站内通知
type NotificationModel struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID    string         `gorm:"type:varchar(64);not null;index" json:"user"`
	Message   string         `gorm:"type:text;not null" json:"message"`
	Type      string         `gorm:"type:varchar(16);not null;default:'info'" json:"type"`
	Read      bool           `gorm:"not null;default:false;index" json:"read"`
	Meta      datatypes.JSON `gorm:"type:json" json:"meta,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"createdAt"`
}

// TableName 指定表名
func (NotificationModel) TableName() string {
	return "notifications"
}

// Validate 验证通知模型
func (nm *NotificationModel) Validate() error {
	if nm.UserID == "" {
		return errors.New("notification user is required")
	}
	if nm.Message == "" {
		return errors.New("notification message is required")
	}
	switch nm.Type {
	case "":
		nm.Type = NotificationInfo
	case NotificationInfo, NotificationRepair, NotificationChat:
	default:
		return errors.New("invalid notification type")
	}
	return nil
}

// PushSubscriptionModel Web Push 订阅
type PushSubscriptionModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	UserID    string    `gorm:"type:varchar(64);not null;index"`
	Endpoint  string    `gorm:"type:varchar(768);not null;uniqueIndex"`
	P256dh    string    `gorm:"type:varchar(255)"`
	Auth      string    `gorm:"type:varchar(255)"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (PushSubscriptionModel) TableName() string {
	return "push_subscriptions"
}
