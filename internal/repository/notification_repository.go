package repository

import (
	"context"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
)

// NotificationRepository 站内通知仓储接口
type NotificationRepository interface {
	CreateBatch(ctx context.Context, notifications []*model.NotificationModel) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.NotificationModel, int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository 创建通知仓储
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// CreateBatch 批量写入通知
func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*model.NotificationModel) error {
	if len(notifications) == 0 {
		return nil
	}
	for _, n := range notifications {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Create(&notifications).Error
}

// ListByUser 分页查询用户通知,最新的在前
func (r *notificationRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.NotificationModel, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.NotificationModel{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var items []*model.NotificationModel
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

// MarkRead 标记单条通知为已读
func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	res := r.db.WithContext(ctx).Model(&model.NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead 标记用户全部通知为已读
func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.NotificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// CountUnread 统计未读通知
func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.NotificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}
