package repository

import (
	"context"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PushSubscriptionRepository 推送订阅仓储接口
type PushSubscriptionRepository interface {
	Upsert(ctx context.Context, sub *model.PushSubscriptionModel) error
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
	Delete(ctx context.Context, id string) error
	FindByUsers(ctx context.Context, userIDs []string) ([]*model.PushSubscriptionModel, error)
}

type pushSubscriptionRepository struct {
	db *gorm.DB
}

// NewPushSubscriptionRepository 创建推送订阅仓储
func NewPushSubscriptionRepository(db *gorm.DB) PushSubscriptionRepository {
	return &pushSubscriptionRepository{db: db}
}

// Upsert 按 endpoint 新建或更新订阅,同一 endpoint 换用户时归属新用户
func (r *pushSubscriptionRepository) Upsert(ctx context.Context, sub *model.PushSubscriptionModel) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

// DeleteByEndpoint 用户取消订阅
func (r *pushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.PushSubscriptionModel{}).Error
}

// Delete 删除失效订阅
func (r *pushSubscriptionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.PushSubscriptionModel{}).Error
}

// FindByUsers 查找一组用户的全部订阅
func (r *pushSubscriptionRepository) FindByUsers(ctx context.Context, userIDs []string) ([]*model.PushSubscriptionModel, error) {
	var subs []*model.PushSubscriptionModel
	if len(userIDs) == 0 {
		return subs, nil
	}
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&subs).Error
	return subs, err
}
