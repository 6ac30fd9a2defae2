package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/integration"
	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
)

// AssignTechnicianRequest 分配技术员请求,flowId 为空时指当前阶段
type AssignTechnicianRequest struct {
	StageID      string `json:"flowId"`
	TechnicianID string `json:"technicianId" binding:"required"`
}

// CompleteStepRequest 完成阶段请求
type CompleteStepRequest struct {
	StageID string   `json:"flowId"`
	Price   *float64 `json:"price"`
	Notes   *string  `json:"notes"`
}

// MoveNextRequest 流转到下一个部门
type MoveNextRequest struct {
	DepartmentID string `json:"departmentId" binding:"required"`
}

// DepartmentRef 部门引用
type DepartmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// StageView 阶段及部门、技术员名称
type StageView struct {
	workflow.FlowStage
	DepartmentName string `json:"departmentName,omitempty"`
	TechnicianName string `json:"technicianName,omitempty"`
}

// FlowView 流程操作后返回的流程投影
type FlowView struct {
	RepairID          string          `json:"repairId"`
	Status            workflow.Status `json:"status"`
	CurrentDepartment *DepartmentRef  `json:"currentDepartment"`
	ActiveStage       int             `json:"activeStage"`
	Flows             []StageView     `json:"flows"`
}

// TimelineACL 当前用户可执行的流程操作
type TimelineACL struct {
	CanAssignTech      bool `json:"canAssignTech"`
	CanCompleteCurrent bool `json:"canCompleteCurrent"`
	CanMoveNext        bool `json:"canMoveNext"`
}

// Timeline 时间线
type Timeline struct {
	FlowView
	DepartmentPriceTotal float64      `json:"departmentPriceTotal"`
	ACL                  TimelineACL  `json:"acl"`
	Logs                 []AuditEntry `json:"logs"`
}

// FlowService 部门流程服务
type FlowService interface {
	AssignTechnician(ctx context.Context, repairID string, req *AssignTechnicianRequest) (*FlowView, error)
	CompleteStep(ctx context.Context, repairID string, req *CompleteStepRequest) (*FlowView, error)
	MoveNext(ctx context.Context, repairID string, req *MoveNextRequest) (*FlowView, error)
	Timeline(ctx context.Context, repairID string) (*Timeline, error)
}

type flowService struct {
	deps   RepairDeps
	outbox *outboxBuilder
	access *repairAccess
}

// NewFlowService 创建流程服务
func NewFlowService(deps RepairDeps) FlowService {
	deps.normalize()
	return &flowService{
		deps:   deps,
		outbox: newOutboxBuilder(deps.Users, deps.Logger),
		access: &repairAccess{monitors: deps.Monitors},
	}
}

// AssignTechnician 为当前阶段分配技术员
func (s *flowService) AssignTechnician(ctx context.Context, repairID string, req *AssignTechnicianRequest) (*FlowView, error) {
	return s.transition(ctx, repairID, workflow.ActionAssignTechnician, func(p auth.Principal, r *workflow.Repair) (string, []string, error) {
		if req.TechnicianID != "" {
			if _, err := s.deps.Users.FindByID(ctx, req.TechnicianID); err != nil {
				return "", nil, s.lookupError(err, "technician", req.TechnicianID)
			}
		}
		err := s.deps.Engine.AssignTechnician(ctx, p, r, workflow.AssignInput{
			StageID:      req.StageID,
			TechnicianID: req.TechnicianID,
		})
		msg := fmt.Sprintf("Repair #%d assigned", r.RepairNumber)
		return msg, []string{req.TechnicianID}, err
	})
}

// CompleteStep 完成当前阶段
func (s *flowService) CompleteStep(ctx context.Context, repairID string, req *CompleteStepRequest) (*FlowView, error) {
	return s.transition(ctx, repairID, workflow.ActionCompleteStep, func(p auth.Principal, r *workflow.Repair) (string, []string, error) {
		err := s.deps.Engine.CompleteStep(ctx, p, r, workflow.CompleteInput{
			StageID: req.StageID,
			Price:   req.Price,
			Notes:   req.Notes,
		})
		msg := fmt.Sprintf("Repair #%d step completed", r.RepairNumber)
		return msg, nil, err
	})
}

// MoveNext 流转到下一个部门,并通知该部门主管
func (s *flowService) MoveNext(ctx context.Context, repairID string, req *MoveNextRequest) (*FlowView, error) {
	return s.transition(ctx, repairID, workflow.ActionMoveNext, func(p auth.Principal, r *workflow.Repair) (string, []string, error) {
		dept, err := s.deps.Departments.FindByID(ctx, req.DepartmentID)
		if err != nil {
			return "", nil, s.lookupError(err, "department", req.DepartmentID)
		}
		if err := s.deps.Engine.MoveNext(ctx, p, r, req.DepartmentID); err != nil {
			return "", nil, err
		}
		msg := fmt.Sprintf("Repair #%d moved to %s", r.RepairNumber, dept.Name)
		return msg, []string{dept.MonitorID}, nil
	})
}

// transition 读取、执行流程操作、连同通知一起按版本写回
func (s *flowService) transition(
	ctx context.Context,
	repairID string,
	action workflow.Action,
	apply func(p auth.Principal, r *workflow.Repair) (string, []string, error),
) (*FlowView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.deps.Repairs.FindByID(ctx, repairID)
	if err != nil {
		return nil, err
	}

	log := s.deps.Logger.WithFields(logrus.Fields{
		"repair_id": r.ID,
		"action":    action,
		"user_id":   p.UserID,
	})

	message, extra, err := apply(p, r)
	if err != nil {
		metrics.RecordFlowTransition(string(action), transitionResult(err))
		log.WithError(err).Debug("flow transition rejected")
		return nil, err
	}

	now := s.deps.Engine.Now()
	r.UpdatedBy = p.UserID
	r.UpdatedAt = now

	recipients := withTechnician(s.outbox.adminIDs(ctx), r.TechnicianID)
	for _, id := range extra {
		recipients = withTechnician(recipients, id)
	}
	var ob []*model.OutboxModel
	if record, err := s.outbox.build(integration.KindRepairFlow, r, message, recipients, nil, now); err != nil {
		log.WithError(err).Warn("skipping flow notification")
	} else {
		ob = append(ob, record)
	}

	if err := s.deps.Repairs.Update(ctx, r, ob...); err != nil {
		metrics.RecordFlowTransition(string(action), "error")
		return nil, err
	}
	metrics.RecordFlowTransition(string(action), "ok")
	log.Info("flow transition applied")

	return s.flowView(ctx, r), nil
}

// Timeline 流程、事件日志及当前用户可执行的操作
func (s *flowService) Timeline(ctx context.Context, repairID string) (*Timeline, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.deps.Repairs.FindByID(ctx, repairID)
	if err != nil {
		return nil, err
	}
	if err := s.access.requireView(ctx, p, r, true); err != nil {
		return nil, err
	}

	t := &Timeline{
		FlowView:             *s.flowView(ctx, r),
		DepartmentPriceTotal: r.PriceTotal(),
		ACL:                  s.acl(ctx, p, r),
		Logs:                 []AuditEntry{},
	}
	if s.deps.Audit != nil {
		t.Logs = s.deps.Audit.Read(ctx, r.Events)
	}
	return t, nil
}

// acl 用授权规则预先计算时间线上的操作按钮
func (s *flowService) acl(ctx context.Context, p auth.Principal, r *workflow.Repair) TimelineACL {
	guard := s.deps.Engine.Guard()
	var acl TimelineACL
	if r.ActiveStage >= 0 {
		acl.CanAssignTech = guard.Allowed(ctx, workflow.GuardRequest{
			Principal:    p,
			Repair:       r,
			StageIndex:   r.ActiveStage,
			Action:       workflow.ActionAssignTechnician,
			TechnicianID: p.UserID,
		})
		acl.CanCompleteCurrent = guard.Allowed(ctx, workflow.GuardRequest{
			Principal:  p,
			Repair:     r,
			StageIndex: r.ActiveStage,
			Action:     workflow.ActionCompleteStep,
		})
	}
	switch {
	case len(r.Flows) == 0:
		acl.CanMoveNext = true
	case r.ActiveStage < 0:
		acl.CanMoveNext = guard.Allowed(ctx, workflow.GuardRequest{
			Principal:  p,
			Repair:     r,
			StageIndex: r.TailIndex(),
			Action:     workflow.ActionMoveNext,
		})
	}
	return acl
}

func (s *flowService) flowView(ctx context.Context, r *workflow.Repair) *FlowView {
	deptIDs := make([]string, 0, len(r.Flows)+1)
	userIDs := make([]string, 0, len(r.Flows))
	for _, stage := range r.Flows {
		deptIDs = append(deptIDs, stage.DepartmentID)
		if stage.TechnicianID != "" {
			userIDs = append(userIDs, stage.TechnicianID)
		}
	}
	if r.CurrentDepartmentID != "" {
		deptIDs = append(deptIDs, r.CurrentDepartmentID)
	}

	deptNames := make(map[string]string)
	if depts, err := s.deps.Departments.FindByIDs(ctx, deptIDs); err != nil {
		s.deps.Logger.WithError(err).Warn("failed to resolve department names")
	} else {
		for _, d := range depts {
			deptNames[d.ID] = d.Name
		}
	}
	userNames := make(map[string]string)
	if users, err := s.deps.Users.FindByIDs(ctx, userIDs); err != nil {
		s.deps.Logger.WithError(err).Warn("failed to resolve technician names")
	} else {
		for _, u := range users {
			userNames[u.ID] = u.DisplayName()
		}
	}

	v := &FlowView{
		RepairID:    r.ID,
		Status:      r.Status,
		ActiveStage: r.ActiveStage,
		Flows:       make([]StageView, 0, len(r.Flows)),
	}
	if r.CurrentDepartmentID != "" {
		v.CurrentDepartment = &DepartmentRef{ID: r.CurrentDepartmentID, Name: deptNames[r.CurrentDepartmentID]}
	}
	for _, stage := range r.Flows {
		v.Flows = append(v.Flows, StageView{
			FlowStage:      stage,
			DepartmentName: deptNames[stage.DepartmentID],
			TechnicianName: userNames[stage.TechnicianID],
		})
	}
	return v
}

func (s *flowService) lookupError(err error, kind, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return invalidInput("unknown %s %s", kind, id)
	}
	return err
}

// transitionResult 流转失败的指标分类
func transitionResult(err error) string {
	switch {
	case errors.Is(err, workflow.ErrForbidden):
		return "forbidden"
	case errors.Is(err, workflow.ErrNotCurrentStep),
		errors.Is(err, workflow.ErrStageNotCompleted),
		errors.Is(err, workflow.ErrIllegalTransition):
		return "conflict"
	}
	return "invalid"
}
