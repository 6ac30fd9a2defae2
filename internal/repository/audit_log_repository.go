package repository

import (
	"context"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
)

// AuditLogRepository 管理操作审计日志仓储接口
type AuditLogRepository interface {
	Save(ctx context.Context, log *model.AuditLogModel) error
	FindByUserID(ctx context.Context, userID string, limit int) ([]*model.AuditLogModel, error)
	FindByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error)
}

// auditLogRepository 审计日志仓储实现
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Save 保存审计日志
func (r *auditLogRepository) Save(ctx context.Context, log *model.AuditLogModel) error {
	if err := log.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByUserID 根据用户 ID 查找审计日志
func (r *auditLogRepository) FindByUserID(ctx context.Context, userID string, limit int) ([]*model.AuditLogModel, error) {
	var logs []*model.AuditLogModel
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}

// FindByResource 根据资源查找审计日志
func (r *auditLogRepository) FindByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	var logs []*model.AuditLogModel
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}
