package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 用户角色
const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
)

// UserModel 用户数据模型
// Permissions 为结构化权限,Perms 为旧版本遗留的自由格式权限
type UserModel struct {
	ID            string         `gorm:"primaryKey;type:varchar(64)"`
	Username      string         `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name          string         `gorm:"type:varchar(128)"`
	Email         string         `gorm:"type:varchar(255)"`
	PasswordHash  string         `gorm:"column:password;type:varchar(255);not null"`
	Role          string         `gorm:"type:varchar(32);not null;default:'technician';index"`
	Permissions   datatypes.JSON `gorm:"type:json"`
	Perms         datatypes.JSON `gorm:"type:json"`
	IsSeedAdmin   bool           `gorm:"not null;default:false"`
	CommissionPct float64        `gorm:"not null;default:50"`
	DepartmentID  string         `gorm:"type:varchar(64);index"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (UserModel) TableName() string {
	return "users"
}

// DisplayName 返回展示名称
func (um *UserModel) DisplayName() string {
	if um.Name != "" {
		return um.Name
	}
	return um.Username
}

// Validate 验证用户模型
func (um *UserModel) Validate() error {
	if um.ID == "" {
		return errors.New("user ID is required")
	}
	if um.Username == "" {
		return errors.New("username is required")
	}
	if um.PasswordHash == "" {
		return errors.New("password is required")
	}
	if um.Role != RoleAdmin && um.Role != RoleTechnician {
		return errors.New("invalid role")
	}
	return nil
}
