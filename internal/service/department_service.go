package service

import (
	"context"
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
	"github.com/sirupsen/logrus"
)

// NewMonitorChecker 部门主管查询;配置了 OpenFGA 时以关系存储为准
func NewMonitorChecker(departments repository.DepartmentRepository, directory *auth.MonitorDirectory) workflow.MonitorChecker {
	if directory != nil {
		return directory
	}
	return departments
}

// CreateDepartmentRequest 新建部门请求
type CreateDepartmentRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// SetMonitorRequest 设置部门主管请求,monitorId 为空表示取消
type SetMonitorRequest struct {
	MonitorID string `json:"monitorId"`
}

// DepartmentView 部门及主管名称
type DepartmentView struct {
	*model.DepartmentModel
	MonitorName string `json:"monitorName,omitempty"`
}

// TechnicianView 部门成员
type TechnicianView struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	DepartmentID string `json:"department"`
}

// DepartmentService 部门服务
type DepartmentService interface {
	List(ctx context.Context) ([]*DepartmentView, error)
	Create(ctx context.Context, req *CreateDepartmentRequest) (*model.DepartmentModel, error)
	SetMonitor(ctx context.Context, id string, req *SetMonitorRequest) (*DepartmentView, error)
	Technicians(ctx context.Context, id string) ([]*TechnicianView, error)
}

type departmentService struct {
	departments repository.DepartmentRepository
	users       repository.UserRepository
	directory   *auth.MonitorDirectory
	monitors    workflow.MonitorChecker
	audit       AuditLogService
	logger      logrus.FieldLogger
}

// NewDepartmentService 创建部门服务,directory 为空时主管关系只保存在数据库
func NewDepartmentService(
	departments repository.DepartmentRepository,
	users repository.UserRepository,
	audit AuditLogService,
	logger logrus.FieldLogger,
	directory ...*auth.MonitorDirectory,
) DepartmentService {
	var dir *auth.MonitorDirectory
	if len(directory) > 0 {
		dir = directory[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &departmentService{
		departments: departments,
		users:       users,
		directory:   dir,
		monitors:    NewMonitorChecker(departments, dir),
		audit:       audit,
		logger:      logger,
	}
}

// List 管理员看到全部部门,主管只看到自己负责的部门
func (s *departmentService) List(ctx context.Context) ([]*DepartmentView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}

	var depts []*model.DepartmentModel
	if p.Caps.IsAdmin() || p.Caps.CanManageSettings() || p.Caps.HasIntake() {
		depts, err = s.departments.FindAll(ctx)
	} else {
		depts, err = s.departments.FindByMonitor(ctx, p.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return s.views(ctx, depts), nil
}

// Create 新建部门
func (s *departmentService) Create(ctx context.Context, req *CreateDepartmentRequest) (*model.DepartmentModel, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.CanManageSettings() {
		return nil, fmt.Errorf("%w: managing departments requires settings permission", workflow.ErrForbidden)
	}
	if err := utils.ValidateName(req.Name); err != nil {
		return nil, err
	}

	now := time.Now()
	dept := &model.DepartmentModel{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: utils.SanitizeString(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.departments.Create(ctx, dept); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, p.UserID, "department.create", "department", dept.ID, map[string]interface{}{
			"name": dept.Name,
		})
	}
	return dept, nil
}

// SetMonitor 更换部门主管,同时维护 OpenFGA 中的 monitor 关系
func (s *departmentService) SetMonitor(ctx context.Context, id string, req *SetMonitorRequest) (*DepartmentView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.CanManageSettings() {
		return nil, fmt.Errorf("%w: managing departments requires settings permission", workflow.ErrForbidden)
	}

	dept, err := s.departments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := strings.TrimSpace(req.MonitorID)
	if next != "" {
		if _, err := s.users.FindByID(ctx, next); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidInput("unknown monitor %s", next)
			}
			return nil, err
		}
	}

	previous := dept.MonitorID
	if err := s.departments.UpdateMonitor(ctx, dept.ID, next); err != nil {
		return nil, err
	}
	if s.directory != nil {
		if err := s.directory.ReplaceMonitor(ctx, dept.ID, previous, next); err != nil {
			s.logger.WithError(err).WithField("department_id", dept.ID).Error("failed to sync monitor relation")
			return nil, fmt.Errorf("failed to sync monitor relation: %w", err)
		}
	}
	dept.MonitorID = next

	if s.audit != nil {
		_ = s.audit.RecordAction(ctx, p.UserID, "department.set_monitor", "department", dept.ID, map[string]interface{}{
			"previous": previous,
			"monitor":  next,
		})
	}
	return s.views(ctx, []*model.DepartmentModel{dept})[0], nil
}

// Technicians 部门成员列表,管理员或该部门主管可查看
func (s *departmentService) Technicians(ctx context.Context, id string) ([]*TechnicianView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	dept, err := s.departments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Caps.IsAdmin() {
		ok, err := s.monitors.IsMonitor(ctx, p.UserID, dept.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: not the monitor of department %s", workflow.ErrForbidden, dept.ID)
		}
	}

	users, err := s.users.FindByDepartment(ctx, dept.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list department technicians: %w", err)
	}
	out := make([]*TechnicianView, 0, len(users))
	for _, u := range users {
		out = append(out, &TechnicianView{
			ID:           u.ID,
			Username:     u.Username,
			Name:         u.DisplayName(),
			Email:        u.Email,
			DepartmentID: u.DepartmentID,
		})
	}
	return out, nil
}

func (s *departmentService) views(ctx context.Context, depts []*model.DepartmentModel) []*DepartmentView {
	ids := make([]string, 0, len(depts))
	for _, d := range depts {
		if d.MonitorID != "" {
			ids = append(ids, d.MonitorID)
		}
	}
	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		users, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.WithError(err).Warn("failed to resolve department monitors")
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName()
		}
	}

	out := make([]*DepartmentView, 0, len(depts))
	for _, d := range depts {
		out = append(out, &DepartmentView{DepartmentModel: d, MonitorName: names[d.MonitorID]})
	}
	return out
}
