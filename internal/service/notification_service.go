package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
)

const defaultNotificationPageSize = 20

// NotificationPage 通知分页结果
type NotificationPage struct {
	Items    []*model.NotificationModel `json:"items"`
	Total    int64                      `json:"total"`
	Unread   int64                      `json:"unread"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"pageSize"`
}

// SubscribeRequest Web Push 订阅请求
type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// UnsubscribeRequest 取消订阅请求
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// NotificationService 站内通知与推送订阅
type NotificationService interface {
	List(ctx context.Context, page, pageSize int) (*NotificationPage, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
	UnreadCount(ctx context.Context) (int64, error)
	Subscribe(ctx context.Context, req *SubscribeRequest) error
	Unsubscribe(ctx context.Context, req *UnsubscribeRequest) error
}

type notificationService struct {
	notifications repository.NotificationRepository
	subscriptions repository.PushSubscriptionRepository
}

// NewNotificationService 创建通知服务
func NewNotificationService(notifications repository.NotificationRepository, subscriptions repository.PushSubscriptionRepository) NotificationService {
	return &notificationService{
		notifications: notifications,
		subscriptions: subscriptions,
	}
}

// List 当前用户的通知,最新的在前
func (s *notificationService) List(ctx context.Context, page, pageSize int) (*NotificationPage, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultNotificationPageSize
	}

	items, total, err := s.notifications.ListByUser(ctx, p.UserID, page, pageSize)
	if err != nil {
		return nil, err
	}
	unread, err := s.notifications.CountUnread(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.NotificationModel{}
	}
	return &NotificationPage{Items: items, Total: total, Unread: unread, Page: page, PageSize: pageSize}, nil
}

// MarkRead 标记单条已读,只能标记自己的通知
func (s *notificationService) MarkRead(ctx context.Context, id string) error {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	return s.notifications.MarkRead(ctx, p.UserID, id)
}

// MarkAllRead 全部标记已读
func (s *notificationService) MarkAllRead(ctx context.Context) (int64, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return 0, err
	}
	return s.notifications.MarkAllRead(ctx, p.UserID)
}

// UnreadCount 当前用户的未读通知数
func (s *notificationService) UnreadCount(ctx context.Context) (int64, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return 0, err
	}
	return s.notifications.CountUnread(ctx, p.UserID)
}

// Subscribe 保存推送订阅,同一 endpoint 重复订阅时覆盖
func (s *notificationService) Subscribe(ctx context.Context, req *SubscribeRequest) error {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return invalidInput("invalid push endpoint")
	}
	return s.subscriptions.Upsert(ctx, &model.PushSubscriptionModel{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Endpoint:  endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now(),
	})
}

// Unsubscribe 删除当前用户的推送订阅
func (s *notificationService) Unsubscribe(ctx context.Context, req *UnsubscribeRequest) error {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	return s.subscriptions.DeleteByEndpoint(ctx, p.UserID, strings.TrimSpace(req.Endpoint))
}
