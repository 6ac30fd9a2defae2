package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// RepairModel 维修单数据模型
// Document 保存完整的维修单文档(流程阶段、配件、事件日志),其余列用于检索和原子更新
type RepairModel struct {
	ID                  string     `gorm:"primaryKey;type:varchar(64)"`
	RepairNumber        int64      `gorm:"not null;uniqueIndex"`
	CustomerName        string     `gorm:"type:varchar(255);index"`
	Phone               string     `gorm:"type:varchar(64);index"`
	DeviceType          string     `gorm:"type:varchar(128)"`
	Issue               string     `gorm:"type:text"`
	Status              string     `gorm:"type:varchar(32);not null;index"`
	TechnicianID        string     `gorm:"type:varchar(64);index"`
	CurrentDepartmentID string     `gorm:"type:varchar(64);index"`
	DeliveryDate        *time.Time `gorm:"index"`
	CreatedBy           string     `gorm:"type:varchar(64);index"`

	// 公开查询信息单独成列,浏览计数需要原子自增
	TrackingToken        *string    `gorm:"type:varchar(64);uniqueIndex"`
	TrackingEnabled      bool       `gorm:"not null;default:false"`
	TrackingShowPrice    bool       `gorm:"not null;default:false"`
	TrackingShowEta      bool       `gorm:"not null"`
	TrackingViews        int64      `gorm:"not null;default:0"`
	TrackingLastViewedAt *time.Time
	TrackingCreatedAt    *time.Time

	Version   int64          `gorm:"not null;default:1"` // 乐观锁版本号
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (RepairModel) TableName() string {
	return "repairs"
}

// Validate 验证维修单模型
func (rm *RepairModel) Validate() error {
	if rm.ID == "" {
		return errors.New("repair ID is required")
	}
	if rm.RepairNumber <= 0 {
		return errors.New("repair number must be positive")
	}
	if rm.Status == "" {
		return errors.New("repair status is required")
	}
	if len(rm.Document) == 0 {
		return errors.New("repair document is required")
	}
	return nil
}
