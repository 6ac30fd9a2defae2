package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"gorm.io/datatypes"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResult 登录结果
type LoginResult struct {
	Token string         `json:"token"`
	User  auth.Principal `json:"user"`
}

// CreateUserRequest 新建用户请求
type CreateUserRequest struct {
	Username     string          `json:"username" binding:"required"`
	Password     string          `json:"password" binding:"required"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Role         string          `json:"role"`
	DepartmentID string          `json:"department"`
	Permissions  map[string]bool `json:"permissions"`
}

// SetDepartmentRequest 更换所属部门请求,department 为空表示移出部门
type SetDepartmentRequest struct {
	DepartmentID string `json:"department"`
}

// UserService 用户服务
type UserService interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginResult, error)
	Me(ctx context.Context) (*auth.Principal, error)
	Create(ctx context.Context, req *CreateUserRequest) (*auth.Principal, error)
	SeedAdmin(ctx context.Context, username, password string) (*model.UserModel, bool, error)
	SetDepartment(ctx context.Context, userID string, req *SetDepartmentRequest) (*auth.Principal, error)
}

type userService struct {
	users       repository.UserRepository
	departments repository.DepartmentRepository
	monitors    workflow.MonitorChecker
	tokens      *auth.TokenManager
	audit       AuditLogService
}

// NewUserService 创建用户服务,monitors 为空时按数据库中的部门主管判断
func NewUserService(users repository.UserRepository, departments repository.DepartmentRepository, monitors workflow.MonitorChecker, tokens *auth.TokenManager, audit AuditLogService) UserService {
	if monitors == nil {
		monitors = departments
	}
	return &userService{
		users:       users,
		departments: departments,
		monitors:    monitors,
		tokens:      tokens,
		audit:       audit,
	}
}

// Login 用户名密码登录,签发只包含用户 ID 的令牌
func (s *userService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, user.ID, "user.login", "user", user.ID, map[string]interface{}{
			"username": user.Username,
		})
	}
	return &LoginResult{Token: token, User: auth.PrincipalFromUser(user)}, nil
}

// Me 当前用户及其能力集合
func (s *userService) Me(ctx context.Context) (*auth.Principal, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create 新建用户,需要设置权限
func (s *userService) Create(ctx context.Context, req *CreateUserRequest) (*auth.Principal, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.CanManageSettings() {
		return nil, fmt.Errorf("%w: managing users requires settings permission", workflow.ErrForbidden)
	}

	role := req.Role
	if role == "" {
		role = model.RoleTechnician
	}
	if role == model.RoleAdmin && !p.Caps.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can create admins", workflow.ErrForbidden)
	}
	if req.DepartmentID != "" {
		if _, err := s.departments.FindByID(ctx, req.DepartmentID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidInput("unknown department %s", req.DepartmentID)
			}
			return nil, err
		}
	}

	user, err := s.newUser(req.Username, req.Password, role)
	if err != nil {
		return nil, err
	}
	user.Name = utils.SanitizeString(req.Name)
	user.Email = strings.TrimSpace(req.Email)
	user.DepartmentID = req.DepartmentID
	if len(req.Permissions) > 0 {
		raw, err := json.Marshal(req.Permissions)
		if err != nil {
			return nil, err
		}
		user.Permissions = datatypes.JSON(raw)
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, p.UserID, "user.create", "user", user.ID, map[string]interface{}{
			"username": user.Username,
			"role":     user.Role,
		})
	}
	created := auth.PrincipalFromUser(user)
	return &created, nil
}

// SetDepartment 更换用户所属部门,自助领取阶段时以此为准
// 管理员可以任意调整;部门主管只能把用户调入自己负责的部门
func (s *userService) SetDepartment(ctx context.Context, userID string, req *SetDepartmentRequest) (*auth.Principal, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	dept := strings.TrimSpace(req.DepartmentID)
	if !p.Caps.IsAdmin() {
		if dept == "" {
			return nil, fmt.Errorf("%w: only admins can remove a department", workflow.ErrForbidden)
		}
		ok, err := s.monitors.IsMonitor(ctx, p.UserID, dept)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: not the monitor of department %s", workflow.ErrForbidden, dept)
		}
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.IsSeedAdmin && target.ID != p.UserID {
		return nil, fmt.Errorf("%w: the seed administrator can only be changed by itself", workflow.ErrForbidden)
	}
	if dept != "" {
		if _, err := s.departments.FindByID(ctx, dept); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidInput("unknown department %s", dept)
			}
			return nil, err
		}
	}

	previous := target.DepartmentID
	if err := s.users.UpdateDepartment(ctx, target.ID, dept); err != nil {
		return nil, err
	}
	target.DepartmentID = dept

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, p.UserID, "user.set_department", "user", target.ID, map[string]interface{}{
			"previous":   previous,
			"department": dept,
		})
	}
	updated := auth.PrincipalFromUser(target)
	return &updated, nil
}

// SeedAdmin 初始化管理员,已存在时直接返回
func (s *userService) SeedAdmin(ctx context.Context, username, password string) (*model.UserModel, bool, error) {
	existing, err := s.users.FindSeedAdmin(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	user, err := s.newUser(username, password, model.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	raw, err := json.Marshal(auth.FullPermissions())
	if err != nil {
		return nil, false, err
	}
	user.Name = "Administrator"
	user.IsSeedAdmin = true
	user.Permissions = datatypes.JSON(raw)

	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *userService) newUser(username, password, role string) (*model.UserModel, error) {
	username = strings.TrimSpace(username)
	if err := utils.ValidateName(username); err != nil {
		return nil, err
	}
	if role != model.RoleAdmin && role != model.RoleTechnician {
		return nil, invalidInput("unknown role %q", role)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	now := time.Now()
	return &model.UserModel{
		ID:            uuid.NewString(),
		Username:      username,
		PasswordHash:  hash,
		Role:          role,
		CommissionPct: 50,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
