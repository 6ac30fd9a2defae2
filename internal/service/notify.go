package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/integration"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// 通知摘要中关注的字段
var summaryFields = map[string]bool{
	"status":                 true,
	"finalPrice":             true,
	"price":                  true,
	"deliveryDate":           true,
	"rejectedDeviceLocation": true,
	"technician":             true,
}

const maxSummaryChanges = 5

// outboxBuilder 组装与维修单写入同一事务的通知记录
type outboxBuilder struct {
	users  repository.UserRepository
	logger logrus.FieldLogger
}

func newOutboxBuilder(users repository.UserRepository, logger logrus.FieldLogger) *outboxBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &outboxBuilder{users: users, logger: logger}
}

// adminIDs 管理员 ID;查询失败只记录日志,通知不影响主流程
func (b *outboxBuilder) adminIDs(ctx context.Context) []string {
	admins, err := b.users.FindAdmins(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("failed to resolve admin recipients")
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	return ids
}

// build 生成一条 outbox 记录,向公开查询房间推送时附带公开视图
func (b *outboxBuilder) build(kind string, r *workflow.Repair, message string, recipients []string, changes []workflow.FieldChange, now time.Time) (*model.OutboxModel, error) {
	payload := integration.NotificationPayload{
		Recipients: recipients,
		Message:    message,
		Type:       model.NotificationRepair,
		URL:        "/repairs/" + r.ID,
		Meta: map[string]interface{}{
			"repairId":     r.ID,
			"repairNumber": r.RepairNumber,
			"deviceType":   r.DeviceType,
			"changes":      summarizeChanges(changes),
		},
	}
	if kind != integration.KindRepairDeleted && r.Tracking.Enabled && r.Tracking.Token != "" {
		payload.TrackingToken = r.Tracking.Token
		payload.Public = NewPublicView(r)
	}

	raw, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return &model.OutboxModel{
		ID:            uuid.NewString(),
		RepairID:      r.ID,
		Kind:          kind,
		Payload:       datatypes.JSON(raw),
		Status:        model.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ChangeSummary 通知中展示的字段变更
type ChangeSummary struct {
	Field string      `json:"field"`
	From  interface{} `json:"from"`
	To    interface{} `json:"to"`
}

// summarizeChanges 取关键字段的前几条变更
func summarizeChanges(changes []workflow.FieldChange) []ChangeSummary {
	out := make([]ChangeSummary, 0, maxSummaryChanges)
	for _, c := range changes {
		if !summaryFields[c.Field] {
			continue
		}
		out = append(out, ChangeSummary{Field: c.Field, From: orDash(c.From), To: orDash(c.To)})
		if len(out) == maxSummaryChanges {
			break
		}
	}
	return out
}

func orDash(v interface{}) interface{} {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok && s == "" {
		return "-"
	}
	return v
}

// withTechnician 管理员加上当前技术员
func withTechnician(ids []string, technicianID string) []string {
	if technicianID == "" {
		return ids
	}
	for _, id := range ids {
		if id == technicianID {
			return ids
		}
	}
	return append([]string{technicianID}, ids...)
}
