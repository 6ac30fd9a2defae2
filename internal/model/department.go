package model

import (
	"errors"
	"time"
)

// DepartmentModel 部门数据模型,MonitorID 为部门主管
type DepartmentModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	MonitorID   string    `gorm:"type:varchar(64);index" json:"monitor,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null" json:"updatedAt"`
}

// TableName 指定表名
func (DepartmentModel) TableName() string {
	return "departments"
}

// Validate 验证部门模型
func (dm *DepartmentModel) Validate() error {
	if dm.ID == "" {
		return errors.New("department ID is required")
	}
	if dm.Name == "" {
		return errors.New("department name is required")
	}
	return nil
}
