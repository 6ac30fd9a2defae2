package workflow

import (
	"context"
	"fmt"

	"github.com/mautops/repair-gin/internal/auth"
)

// Action 流程动作
type Action string

const (
	ActionAssignTechnician Action = "assign_technician"
	ActionCompleteStep     Action = "complete_step"
	ActionMoveNext         Action = "move_next"
)

// MonitorChecker 部门主管查询
type MonitorChecker interface {
	IsMonitor(ctx context.Context, userID, departmentID string) (bool, error)
}

// GuardRequest 一次流转授权请求
type GuardRequest struct {
	Principal  auth.Principal
	Repair     *Repair
	StageIndex int
	Action     Action
	// TechnicianID 分配技术员时的目标技术员
	TechnicianID string
}

// Guard 流转授权
type Guard struct {
	monitors MonitorChecker
}

// NewGuard 创建流转授权
func NewGuard(monitors MonitorChecker) *Guard {
	return &Guard{monitors: monitors}
}

// currentIndex move_next 针对最后一个阶段,其余动作针对未完成阶段
func currentIndex(r *Repair, action Action) int {
	if action == ActionMoveNext {
		return r.TailIndex()
	}
	return r.ActiveStage
}

// Authorize 校验目标阶段为当前阶段,并按动作检查权限
func (g *Guard) Authorize(ctx context.Context, req GuardRequest) error {
	r := req.Repair
	cur := currentIndex(r, req.Action)
	if cur < 0 || req.StageIndex != cur {
		return ErrNotCurrentStep
	}
	stage := &r.Flows[cur]
	p := req.Principal

	if p.Caps.CanEditAll() {
		return nil
	}

	switch req.Action {
	case ActionAssignTechnician:
		if req.TechnicianID != "" && req.TechnicianID == p.UserID &&
			p.DepartmentID != "" && p.DepartmentID == stage.DepartmentID {
			return nil
		}
	case ActionCompleteStep, ActionMoveNext:
		if stage.TechnicianID != "" && stage.TechnicianID == p.UserID {
			return nil
		}
	}

	monitor, err := g.isMonitor(ctx, p.UserID, stage.DepartmentID)
	if err != nil {
		return err
	}
	if monitor {
		return nil
	}

	return fmt.Errorf("%w: %s on stage %s", ErrForbidden, req.Action, stage.ID)
}

// Allowed 只返回是否允许,用于计算时间线上的操作标记
func (g *Guard) Allowed(ctx context.Context, req GuardRequest) bool {
	return g.Authorize(ctx, req) == nil
}

func (g *Guard) isMonitor(ctx context.Context, userID, departmentID string) (bool, error) {
	if g.monitors == nil || departmentID == "" {
		return false, nil
	}
	ok, err := g.monitors.IsMonitor(ctx, userID, departmentID)
	if err != nil {
		return false, fmt.Errorf("monitor lookup: %w", err)
	}
	return ok, nil
}
