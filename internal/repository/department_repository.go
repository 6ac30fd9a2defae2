package repository

import (
	"context"
	"time"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
)

// DepartmentRepository 部门仓储接口
type DepartmentRepository interface {
	Create(ctx context.Context, dept *model.DepartmentModel) error
	FindByID(ctx context.Context, id string) (*model.DepartmentModel, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.DepartmentModel, error)
	FindAll(ctx context.Context) ([]*model.DepartmentModel, error)
	FindByMonitor(ctx context.Context, userID string) ([]*model.DepartmentModel, error)
	UpdateMonitor(ctx context.Context, id, monitorID string) error
	IsMonitor(ctx context.Context, userID, departmentID string) (bool, error)
}

type departmentRepository struct {
	db *gorm.DB
}

// NewDepartmentRepository 创建部门仓储
func NewDepartmentRepository(db *gorm.DB) DepartmentRepository {
	return &departmentRepository{db: db}
}

// Create 新建部门
func (r *departmentRepository) Create(ctx context.Context, dept *model.DepartmentModel) error {
	if err := dept.Validate(); err != nil {
		return err
	}
	return translate(r.db.WithContext(ctx).Create(dept).Error)
}

// FindByID 根据 ID 查找部门
func (r *departmentRepository) FindByID(ctx context.Context, id string) (*model.DepartmentModel, error) {
	var dept model.DepartmentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dept).Error; err != nil {
		return nil, translate(err)
	}
	return &dept, nil
}

// FindByIDs 批量查找部门
func (r *departmentRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.DepartmentModel, error) {
	var depts []*model.DepartmentModel
	if len(ids) == 0 {
		return depts, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&depts).Error
	return depts, err
}

// FindAll 查找所有部门
func (r *departmentRepository) FindAll(ctx context.Context) ([]*model.DepartmentModel, error) {
	var depts []*model.DepartmentModel
	err := r.db.WithContext(ctx).Order("name ASC").Find(&depts).Error
	return depts, err
}

// FindByMonitor 查找用户担任主管的部门
func (r *departmentRepository) FindByMonitor(ctx context.Context, userID string) ([]*model.DepartmentModel, error) {
	var depts []*model.DepartmentModel
	if userID == "" {
		return depts, nil
	}
	err := r.db.WithContext(ctx).Where("monitor_id = ?", userID).Order("name ASC").Find(&depts).Error
	return depts, err
}

// UpdateMonitor 设置部门主管,monitorID 为空表示取消
func (r *departmentRepository) UpdateMonitor(ctx context.Context, id, monitorID string) error {
	res := r.db.WithContext(ctx).Model(&model.DepartmentModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"monitor_id": monitorID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMonitor 判断用户是否为部门主管
func (r *departmentRepository) IsMonitor(ctx context.Context, userID, departmentID string) (bool, error) {
	if userID == "" || departmentID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DepartmentModel{}).
		Where("id = ? AND monitor_id = ?", departmentID, userID).
		Count(&count).Error
	return count > 0, err
}
