package repository

import (
	"context"
	"time"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	Create(ctx context.Context, user *model.UserModel) error
	Save(ctx context.Context, user *model.UserModel) error
	FindByID(ctx context.Context, id string) (*model.UserModel, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.UserModel, error)
	FindByUsername(ctx context.Context, username string) (*model.UserModel, error)
	FindAdmins(ctx context.Context) ([]*model.UserModel, error)
	FindSeedAdmin(ctx context.Context) (*model.UserModel, error)
	FindByDepartment(ctx context.Context, departmentID string) ([]*model.UserModel, error)
	UpdateDepartment(ctx context.Context, id, departmentID string) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 新建用户
func (r *userRepository) Create(ctx context.Context, user *model.UserModel) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

// Save 保存用户
func (r *userRepository) Save(ctx context.Context, user *model.UserModel) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return translate(r.db.WithContext(ctx).Save(user).Error)
}

// FindByID 根据 ID 查找用户
func (r *userRepository) FindByID(ctx context.Context, id string) (*model.UserModel, error) {
	var user model.UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByIDs 批量查找用户,忽略不存在的 ID
func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.UserModel, error) {
	var users []*model.UserModel
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// FindByUsername 根据用户名查找用户
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.UserModel, error) {
	var user model.UserModel
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindAdmins 查找所有管理员
func (r *userRepository) FindAdmins(ctx context.Context) ([]*model.UserModel, error) {
	var users []*model.UserModel
	err := r.db.WithContext(ctx).Where("role = ?", model.RoleAdmin).Order("created_at ASC").Find(&users).Error
	return users, err
}

// FindSeedAdmin 查找初始化管理员
func (r *userRepository) FindSeedAdmin(ctx context.Context) (*model.UserModel, error) {
	var user model.UserModel
	if err := r.db.WithContext(ctx).Where("is_seed_admin = ?", true).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByDepartment 查找归属某个部门的用户
func (r *userRepository) FindByDepartment(ctx context.Context, departmentID string) ([]*model.UserModel, error) {
	var users []*model.UserModel
	err := r.db.WithContext(ctx).Where("department_id = ?", departmentID).Order("username ASC").Find(&users).Error
	return users, err
}

// UpdateDepartment 更换用户所属部门,departmentID 为空表示移出部门
func (r *userRepository) UpdateDepartment(ctx context.Context, id, departmentID string) error {
	result := r.db.WithContext(ctx).Model(&model.UserModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{"department_id": departmentID, "updated_at": time.Now()})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
