package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RepairRepository 维修单仓储接口
// 写操作带乐观锁,并在同一事务中写入 outbox 通知
type RepairRepository interface {
	Create(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error
	Update(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error
	Delete(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error
	FindByID(ctx context.Context, id string) (*workflow.Repair, error)
	FindByTrackingToken(ctx context.Context, token string) (*workflow.Repair, error)
	List(ctx context.Context, filter *RepairFilter) ([]*workflow.Repair, int64, error)
	UpdateTracking(ctx context.Context, id string, tracking workflow.PublicTracking) error
	RecordTrackingView(ctx context.Context, token string, at time.Time) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// RepairFilter 维修单查询过滤器
type RepairFilter struct {
	Query        string
	Status       string
	TechnicianID string
	DepartmentID string
	From         *time.Time // 创建时间或交付时间落在区间内
	To           *time.Time
	SortBy       string
	SortOrder    string
	Page         int
	PageSize     int
}

var repairSortColumns = utils.SortColumns{
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"repair_number": "repair_number",
	"repairId":      "repair_number",
	"status":        "status",
	"delivery_date": "delivery_date",
}

// repairRepository 维修单仓储实现
type repairRepository struct {
	db *gorm.DB
}

// NewRepairRepository 创建维修单仓储
func NewRepairRepository(db *gorm.DB) RepairRepository {
	return &repairRepository{db: db}
}

// Create 新建维修单
func (r *repairRepository) Create(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error {
	m, err := toRepairModel(repair)
	if err != nil {
		return err
	}
	m.Version = 1
	if err := m.Validate(); err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return translate(err)
		}
		return saveOutbox(tx, outbox)
	})
	if err != nil {
		return err
	}
	repair.Version = m.Version
	return nil
}

// Update 按版本号条件更新,版本不一致时返回 ErrVersionConflict
func (r *repairRepository) Update(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error {
	m, err := toRepairModel(repair)
	if err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RepairModel{}).
			Where("id = ? AND version = ?", repair.ID, repair.Version).
			Updates(map[string]interface{}{
				"customer_name":         m.CustomerName,
				"phone":                 m.Phone,
				"device_type":           m.DeviceType,
				"issue":                 m.Issue,
				"status":                m.Status,
				"technician_id":         m.TechnicianID,
				"current_department_id": m.CurrentDepartmentID,
				"delivery_date":         m.DeliveryDate,
				"document":              m.Document,
				"version":               gorm.Expr("version + 1"),
				"updated_at":            m.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, repair.ID)
		}
		return saveOutbox(tx, outbox)
	})
	if err != nil {
		return err
	}
	repair.Version++
	return nil
}

// Delete 按版本号删除维修单
func (r *repairRepository) Delete(ctx context.Context, repair *workflow.Repair, outbox ...*model.OutboxModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", repair.ID, repair.Version).Delete(&model.RepairModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, repair.ID)
		}
		return saveOutbox(tx, outbox)
	})
}

// FindByID 根据 ID 查找维修单
func (r *repairRepository) FindByID(ctx context.Context, id string) (*workflow.Repair, error) {
	var m model.RepairModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return fromRepairModel(&m)
}

// FindByTrackingToken 根据公开查询令牌查找维修单
func (r *repairRepository) FindByTrackingToken(ctx context.Context, token string) (*workflow.Repair, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var m model.RepairModel
	if err := r.db.WithContext(ctx).Where("tracking_token = ?", token).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return fromRepairModel(&m)
}

// List 根据过滤器查询维修单,返回当前页与总数
func (r *repairRepository) List(ctx context.Context, filter *RepairFilter) ([]*workflow.Repair, int64, error) {
	if filter == nil {
		filter = &RepairFilter{}
	}
	query := r.db.WithContext(ctx).Model(&model.RepairModel{})

	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + utils.EscapeLike(strings.ToLower(q)) + "%"
		query = query.Where(
			"LOWER(customer_name) LIKE ? ESCAPE '\\' OR LOWER(phone) LIKE ? ESCAPE '\\' OR LOWER(device_type) LIKE ? ESCAPE '\\' OR LOWER(issue) LIKE ? ESCAPE '\\'",
			pattern, pattern, pattern, pattern,
		)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TechnicianID != "" {
		query = query.Where("technician_id = ?", filter.TechnicianID)
	}
	if filter.DepartmentID != "" {
		query = query.Where("current_department_id = ?", filter.DepartmentID)
	}
	if filter.From != nil || filter.To != nil {
		from := time.Time{}
		to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
		if filter.From != nil {
			from = *filter.From
		}
		if filter.To != nil {
			to = *filter.To
		}
		query = query.Where(
			"(created_at >= ? AND created_at <= ?) OR (delivery_date >= ? AND delivery_date <= ?)",
			from, to, from, to,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, err := repairSortColumns.OrderClause(filter.SortBy, filter.SortOrder, "created_at")
	if err != nil {
		return nil, 0, err
	}
	query = query.Order(order)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []*model.RepairModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	repairs := make([]*workflow.Repair, 0, len(rows))
	for _, m := range rows {
		repair, err := fromRepairModel(m)
		if err != nil {
			return nil, 0, err
		}
		repairs = append(repairs, repair)
	}
	return repairs, total, nil
}

// UpdateTracking 更新公开查询设置
func (r *repairRepository) UpdateTracking(ctx context.Context, id string, tracking workflow.PublicTracking) error {
	var token *string
	if tracking.Token != "" {
		token = &tracking.Token
	}
	res := r.db.WithContext(ctx).Model(&model.RepairModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tracking_token":          token,
			"tracking_enabled":        tracking.Enabled,
			"tracking_show_price":     tracking.ShowPrice,
			"tracking_show_eta":       tracking.ShowEta,
			"tracking_views":          tracking.Views,
			"tracking_last_viewed_at": tracking.LastViewedAt,
			"tracking_created_at":     tracking.CreatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTrackingView 原子递增浏览次数
func (r *repairRepository) RecordTrackingView(ctx context.Context, token string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.RepairModel{}).
		Where("tracking_token = ? AND tracking_enabled = ?", token, true).
		UpdateColumns(map[string]interface{}{
			"tracking_views":          gorm.Expr("tracking_views + 1"),
			"tracking_last_viewed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus 按状态统计维修单数量
func (r *repairRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.RepairModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func missingOrConflict(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&model.RepairModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func saveOutbox(tx *gorm.DB, outbox []*model.OutboxModel) error {
	for _, o := range outbox {
		if o == nil {
			continue
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("invalid outbox record: %w", err)
		}
		if err := tx.Create(o).Error; err != nil {
			return fmt.Errorf("failed to save outbox record: %w", err)
		}
	}
	return nil
}

func toRepairModel(repair *workflow.Repair) (*model.RepairModel, error) {
	doc, err := json.Marshal(repair)
	if err != nil {
		return nil, fmt.Errorf("failed to encode repair: %w", err)
	}
	m := &model.RepairModel{
		ID:                   repair.ID,
		RepairNumber:         repair.RepairNumber,
		CustomerName:         repair.CustomerName,
		Phone:                repair.Phone,
		DeviceType:           repair.DeviceType,
		Issue:                repair.Issue,
		Status:               string(repair.Status),
		TechnicianID:         repair.TechnicianID,
		CurrentDepartmentID:  repair.CurrentDepartmentID,
		DeliveryDate:         repair.DeliveryDate,
		CreatedBy:            repair.CreatedBy,
		TrackingEnabled:      repair.Tracking.Enabled,
		TrackingShowPrice:    repair.Tracking.ShowPrice,
		TrackingShowEta:      repair.Tracking.ShowEta,
		TrackingViews:        repair.Tracking.Views,
		TrackingLastViewedAt: repair.Tracking.LastViewedAt,
		TrackingCreatedAt:    repair.Tracking.CreatedAt,
		Version:              repair.Version,
		Document:             datatypes.JSON(doc),
		CreatedAt:            repair.CreatedAt,
		UpdatedAt:            repair.UpdatedAt,
	}
	if repair.Tracking.Token != "" {
		token := repair.Tracking.Token
		m.TrackingToken = &token
	}
	return m, nil
}

func fromRepairModel(m *model.RepairModel) (*workflow.Repair, error) {
	var repair workflow.Repair
	if err := json.Unmarshal(m.Document, &repair); err != nil {
		return nil, fmt.Errorf("failed to decode repair %s: %w", m.ID, err)
	}
	// 检索列为准
	repair.ID = m.ID
	repair.RepairNumber = m.RepairNumber
	repair.Version = m.Version
	repair.CreatedAt = m.CreatedAt
	repair.UpdatedAt = m.UpdatedAt
	repair.Tracking = workflow.PublicTracking{
		Enabled:      m.TrackingEnabled,
		ShowPrice:    m.TrackingShowPrice,
		ShowEta:      m.TrackingShowEta,
		Views:        m.TrackingViews,
		LastViewedAt: m.TrackingLastViewedAt,
		CreatedAt:    m.TrackingCreatedAt,
	}
	if m.TrackingToken != nil {
		repair.Tracking.Token = *m.TrackingToken
	}
	if repair.Flows == nil {
		repair.Flows = []workflow.FlowStage{}
	}
	if repair.Parts == nil {
		repair.Parts = []workflow.Part{}
	}
	return &repair, nil
}
