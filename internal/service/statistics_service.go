package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"gorm.io/gorm"
)

const defaultStatisticsDays = 30

// StatisticsService 统计服务接口
type StatisticsService interface {
	RepairsByStatus(ctx context.Context) ([]*RepairStatisticsByStatus, error)
	RepairsByDay(ctx context.Context, days int) ([]*RepairStatisticsByDay, error)
	RepairsByTechnician(ctx context.Context) ([]*RepairStatisticsByTechnician, error)
}

// RepairStatisticsByStatus 按状态统计
type RepairStatisticsByStatus struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// RepairStatisticsByDay 按天统计,日期按应用时区计算
type RepairStatisticsByDay struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// RepairStatisticsByTechnician 按负责技术员统计
type RepairStatisticsByTechnician struct {
	TechnicianID   string `json:"technicianId"`
	TechnicianName string `json:"technicianName"`
	Count          int64  `json:"count"`
	Completed      int64  `json:"completed"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db       *gorm.DB
	repairs  repository.RepairRepository
	users    repository.UserRepository
	location *time.Location
	now      func() time.Time
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB, repairs repository.RepairRepository, users repository.UserRepository, location *time.Location) StatisticsService {
	if location == nil {
		location = time.UTC
	}
	return &statisticsService{
		db:       db,
		repairs:  repairs,
		users:    users,
		location: location,
		now:      time.Now,
	}
}

func requireStatistics(ctx context.Context) error {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	if !p.Caps.IsAdmin() && !p.Caps.Has(auth.CapViewAll) {
		return fmt.Errorf("%w: statistics require account access", workflow.ErrForbidden)
	}
	return nil
}

// RepairsByStatus 按状态统计维修单,没有数据的状态计为 0
func (s *statisticsService) RepairsByStatus(ctx context.Context) ([]*RepairStatisticsByStatus, error) {
	if err := requireStatistics(ctx); err != nil {
		return nil, err
	}
	counts, err := s.repairs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get repair statistics by status: %w", err)
	}

	stats := make([]*RepairStatisticsByStatus, 0, len(workflow.AllStatuses()))
	for _, st := range workflow.AllStatuses() {
		stats = append(stats, &RepairStatisticsByStatus{Status: string(st), Count: counts[string(st)]})
	}
	return stats, nil
}

// RepairsByDay 最近 days 天每天新建的维修单数量
// 数据库的 DATE() 使用 UTC,这里取出创建时间后按应用时区分桶
func (s *statisticsService) RepairsByDay(ctx context.Context, days int) ([]*RepairStatisticsByDay, error) {
	if err := requireStatistics(ctx); err != nil {
		return nil, err
	}
	if days <= 0 || days > 366 {
		days = defaultStatisticsDays
	}

	now := s.now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	start := today.AddDate(0, 0, -(days - 1))

	var created []time.Time
	err := s.db.WithContext(ctx).Model(&model.RepairModel{}).
		Where("created_at >= ?", start.UTC()).
		Pluck("created_at", &created).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get repair statistics by day: %w", err)
	}

	buckets := make(map[string]int64, days)
	for _, t := range created {
		buckets[t.In(s.location).Format("2006-01-02")]++
	}

	stats := make([]*RepairStatisticsByDay, 0, days)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		stats = append(stats, &RepairStatisticsByDay{Date: key, Count: buckets[key]})
	}
	return stats, nil
}

// RepairsByTechnician 按负责技术员统计,已交付的计为完成
func (s *statisticsService) RepairsByTechnician(ctx context.Context) ([]*RepairStatisticsByTechnician, error) {
	if err := requireStatistics(ctx); err != nil {
		return nil, err
	}

	var results []struct {
		TechnicianID string
		Count        int64
		Completed    int64
	}
	err := s.db.WithContext(ctx).Model(&model.RepairModel{}).
		Select("technician_id, COUNT(*) AS count, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed", string(workflow.StatusDelivered)).
		Where("technician_id <> ''").
		Group("technician_id").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get repair statistics by technician: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TechnicianID)
	}
	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		users, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName()
		}
	}

	stats := make([]*RepairStatisticsByTechnician, 0, len(results))
	for _, r := range results {
		name, ok := names[r.TechnicianID]
		if !ok {
			name = "unknown"
		}
		stats = append(stats, &RepairStatisticsByTechnician{
			TechnicianID:   r.TechnicianID,
			TechnicianName: name,
			Count:          r.Count,
			Completed:      r.Completed,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].TechnicianID < stats[j].TechnicianID
	})
	return stats, nil
}
