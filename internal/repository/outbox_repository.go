package repository

import (
	"context"
	"time"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
)

// OutboxRepository 通知 outbox 仓储接口
type OutboxRepository interface {
	Create(ctx context.Context, record *model.OutboxModel) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxModel, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository 创建 outbox 仓储
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Create 单独写入一条 outbox 记录(不依附维修单写入的通知)
func (r *outboxRepository) Create(ctx context.Context, record *model.OutboxModel) error {
	return saveOutbox(r.db.WithContext(ctx), []*model.OutboxModel{record})
}

// FindDue 查找到期待分发的记录,按创建时间排序
func (r *outboxRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*model.OutboxModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.OutboxPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// MarkSent 标记已分发
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.OutboxSent,
		"last_error": "",
		"updated_at": time.Now(),
	})
}

// MarkRetry 记录失败并安排下次重试
func (r *outboxRepository) MarkRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"retry_count":     retryCount,
		"next_attempt_at": nextAttempt,
		"last_error":      lastErr,
		"updated_at":      time.Now(),
	})
}

// MarkFailed 超过重试次数后标记失败
func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.OutboxFailed,
		"last_error": lastErr,
		"updated_at": time.Now(),
	})
}

// CountPending 统计待分发记录数
func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OutboxModel{}).
		Where("status = ?", model.OutboxPending).
		Count(&count).Error
	return count, err
}

func (r *outboxRepository) update(ctx context.Context, id string, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.OutboxModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
