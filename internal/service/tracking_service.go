package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
)

// 公开时间线节点
const (
	MilestoneReceived  = "received"
	MilestoneStarted   = "started"
	MilestoneFinished  = "finished"
	MilestoneDelivered = "delivered"
)

// Milestone 公开时间线节点
type Milestone struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// PublicRepairView 客户可见的维修单视图,不含事件日志和内部备注
type PublicRepairView struct {
	RepairNumber int64           `json:"repairId"`
	DeviceType   string          `json:"deviceType"`
	Status       workflow.Status `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartTime    *time.Time      `json:"startTime"`
	EndTime      *time.Time      `json:"endTime"`
	DeliveryDate *time.Time      `json:"deliveryDate"`
	ETA          *time.Time      `json:"eta"`
	NotesPublic  string          `json:"notesPublic,omitempty"`
	FinalPrice   *float64        `json:"finalPrice"`
	Timeline     []Milestone     `json:"timeline"`
	Views        int64           `json:"views"`
	LastViewedAt *time.Time      `json:"lastViewedAt,omitempty"`
	Updates      []PublicUpdate  `json:"updates"`
}

// PublicUpdate 公开的客户动态,不含创建人
type PublicUpdate struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewPublicView 按公开设置隐藏价格和预计完成时间
func NewPublicView(r *workflow.Repair) PublicRepairView {
	v := PublicRepairView{
		RepairNumber: r.RepairNumber,
		DeviceType:   r.DeviceType,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		DeliveryDate: r.DeliveryDate,
		NotesPublic:  r.NotesPublic,
		Views:        r.Tracking.Views,
		LastViewedAt: r.Tracking.LastViewedAt,
		Timeline:     []Milestone{{Key: MilestoneReceived, At: r.CreatedAt}},
		Updates:      []PublicUpdate{},
	}
	for _, u := range r.CustomerUpdates {
		if u.IsPublic {
			v.Updates = append(v.Updates, PublicUpdate{Type: u.Type, Text: u.Text, FileURL: u.FileURL, CreatedAt: u.CreatedAt})
		}
	}
	if r.Tracking.ShowEta {
		v.ETA = r.ETA
	}
	if r.Tracking.ShowPrice {
		v.FinalPrice = r.FinalPrice
	}
	if r.StartTime != nil {
		v.Timeline = append(v.Timeline, Milestone{Key: MilestoneStarted, At: *r.StartTime})
	}
	if r.EndTime != nil {
		v.Timeline = append(v.Timeline, Milestone{Key: MilestoneFinished, At: *r.EndTime})
	}
	if r.DeliveryDate != nil {
		v.Timeline = append(v.Timeline, Milestone{Key: MilestoneDelivered, At: *r.DeliveryDate})
	}
	return v
}

// TrackingRequest 公开链接设置,未传的字段保持不变
type TrackingRequest struct {
	Enabled    *bool `json:"enabled"`
	Regenerate bool  `json:"regenerate"`
	ShowPrice  *bool `json:"showPrice"`
	ShowEta    *bool `json:"showEta"`
}

// TrackingResult 公开链接设置结果
type TrackingResult struct {
	Token    string                  `json:"token"`
	URL      string                  `json:"url"`
	Tracking workflow.PublicTracking `json:"publicTracking"`
}

// TrackingService 公开查询服务
type TrackingService interface {
	Configure(ctx context.Context, repairID string, req *TrackingRequest) (*TrackingResult, error)
	PublicView(ctx context.Context, token string) (*PublicRepairView, error)
}

type trackingService struct {
	repairs  repository.RepairRepository
	audit    AuditLogService
	baseURL  string
	now      func() time.Time
	newToken func() (string, error)
	logger   logrus.FieldLogger
}

// NewTrackingService 创建公开查询服务,baseURL 为前端站点地址,用于拼接 /t/<token>
func NewTrackingService(repairs repository.RepairRepository, audit AuditLogService, baseURL string, logger logrus.FieldLogger) TrackingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &trackingService{
		repairs:  repairs,
		audit:    audit,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
		newToken: utils.GenerateTrackingToken,
		logger:   logger,
	}
}

// Configure 开关公开链接、重新生成令牌,仅管理员可用
func (s *trackingService) Configure(ctx context.Context, repairID string, req *TrackingRequest) (*TrackingResult, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.IsAdmin() {
		return nil, fmt.Errorf("%w: public tracking is admin only", workflow.ErrForbidden)
	}
	if req == nil {
		req = &TrackingRequest{}
	}

	r, err := s.repairs.FindByID(ctx, repairID)
	if err != nil {
		return nil, err
	}

	t := r.Tracking
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
	if req.ShowPrice != nil {
		t.ShowPrice = *req.ShowPrice
	}
	if req.ShowEta != nil {
		t.ShowEta = *req.ShowEta
	}
	if req.Regenerate || t.Token == "" {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate tracking token: %w", err)
		}
		now := s.now()
		t.Token = token
		t.CreatedAt = &now
		t.Views = 0
		t.LastViewedAt = nil
	}

	if err := s.repairs.UpdateTracking(ctx, r.ID, t); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, p.UserID, "tracking.configure", "repair", r.ID, map[string]interface{}{
			"enabled":     t.Enabled,
			"regenerated": req.Regenerate,
			"showPrice":   t.ShowPrice,
			"showEta":     t.ShowEta,
		})
	}

	return &TrackingResult{
		Token:    t.Token,
		URL:      s.trackingURL(t.Token),
		Tracking: t,
	}, nil
}

// PublicView 公开查询,每次访问原子累加浏览次数
func (s *trackingService) PublicView(ctx context.Context, token string) (*PublicRepairView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalidInput("tracking token is required")
	}
	if err := s.repairs.RecordTrackingView(ctx, token, s.now()); err != nil {
		return nil, err
	}
	r, err := s.repairs.FindByTrackingToken(ctx, token)
	if err != nil {
		return nil, err
	}
	view := NewPublicView(r)
	return &view, nil
}

func (s *trackingService) trackingURL(token string) string {
	return s.baseURL + "/t/" + token
}
