package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
)

// AuditEntry 展示用的事件,操作人名称在读取时解析,不写回事件
type AuditEntry struct {
	Type      workflow.EventType `json:"type"`
	ActorID   string             `json:"actorId,omitempty"`
	ActorName string             `json:"actorName,omitempty"`
	At        time.Time          `json:"at"`
	Payload   workflow.Payload   `json:"payload"`
}

// AuditService 维修单事件的读取
type AuditService interface {
	Read(ctx context.Context, log workflow.EventLog) []AuditEntry
	Window() int
	SetWindow(window int)
}

type auditService struct {
	trail  *workflow.Trail
	users  repository.UserRepository
	window atomic.Int64
	logger logrus.FieldLogger
}

// NewAuditService 创建事件读取服务,window 为最多返回的事件数
func NewAuditService(trail *workflow.Trail, users repository.UserRepository, window int, logger logrus.FieldLogger) AuditService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &auditService{trail: trail, users: users, logger: logger}
	s.SetWindow(window)
	return s
}

// Window 当前读取窗口
func (s *auditService) Window() int {
	return int(s.window.Load())
}

// SetWindow 调整读取窗口,配置热加载时调用
func (s *auditService) SetWindow(window int) {
	if window <= 0 {
		window = workflow.DefaultAuditWindow
	}
	s.window.Store(int64(window))
}

// Read 过滤、倒序、截断,并补充操作人当前的显示名称
func (s *auditService) Read(ctx context.Context, log workflow.EventLog) []AuditEntry {
	events := s.trail.Read(log, s.Window())

	ids := make([]string, 0, len(events))
	seen := make(map[string]bool)
	for _, e := range events {
		if e.ActorID != "" && !seen[e.ActorID] {
			seen[e.ActorID] = true
			ids = append(ids, e.ActorID)
		}
	}

	names := make(map[string]string, len(ids))
	if len(ids) > 0 && s.users != nil {
		users, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.WithError(err).Warn("failed to resolve audit actors")
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName()
		}
	}

	out := make([]AuditEntry, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEntry{
			Type:      e.Type,
			ActorID:   e.ActorID,
			ActorName: names[e.ActorID],
			At:        e.At,
			Payload:   e.Payload,
		})
	}
	return out
}
