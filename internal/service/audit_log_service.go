package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/sirupsen/logrus"
)

// RequestMeta 请求来源信息,由 API 层写入 context
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta 写入请求来源信息
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom 读取请求来源信息
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// AuditLogService 管理操作审计日志服务
// 维修单自身的变更记录在事件流中,这里记录部门、公开链接、登录等操作
type AuditLogService interface {
	RecordAction(ctx context.Context, userID string, action string, resourceType string, resourceID string, details interface{}) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditLogModel, error)
	ListByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error)
}

// auditLogService 审计日志服务实现
type auditLogService struct {
	auditRepo repository.AuditLogRepository
	logger    logrus.FieldLogger
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository, logger logrus.FieldLogger) AuditLogService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &auditLogService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// RecordAction 记录操作审计日志,写入失败只记录日志
func (s *auditLogService) RecordAction(
	ctx context.Context,
	userID string,
	action string,
	resourceType string,
	resourceID string,
	details interface{},
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	meta := RequestMetaFrom(ctx)
	auditLog := &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    meta.RequestID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}

	if err := s.auditRepo.Save(ctx, auditLog); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":        action,
			"resource_type": resourceType,
			"resource_id":   resourceID,
		}).Warn("failed to record audit log")
		return err
	}
	return nil
}

// ListByUser 查询用户最近的操作
func (s *auditLogService) ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByUserID(ctx, userID, limit)
}

// ListByResource 查询资源的操作记录
func (s *auditLogService) ListByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByResource(ctx, resourceType, resourceID)
}
