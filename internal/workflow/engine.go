package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/auth"
)

// Option 引擎配置项
type Option func(*Engine)

// WithClock 替换时钟,用于测试
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithReturnAfterReject 是否允许拒修的维修单再标记为退回
func WithReturnAfterReject(allow bool) Option {
	return func(e *Engine) { e.allowReturnAfterReject = allow }
}

// WithStageIDs 替换阶段 ID 生成器
func WithStageIDs(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// Engine 部门流程引擎,负责阶段流转以及维修单状态与阶段状态的同步
type Engine struct {
	guard                  *Guard
	trail                  *Trail
	now                    func() time.Time
	newID                  func() string
	allowReturnAfterReject bool
}

// NewEngine 创建流程引擎
func NewEngine(guard *Guard, trail *Trail, opts ...Option) *Engine {
	e := &Engine{
		guard:                  guard,
		trail:                  trail,
		now:                    time.Now,
		newID:                  uuid.NewString,
		allowReturnAfterReject: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Guard 返回流转授权
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Trail 返回审计轨迹
func (e *Engine) Trail() *Trail {
	return e.trail
}

// Now 引擎当前时间
func (e *Engine) Now() time.Time {
	return e.now()
}

// OpenInput 新建维修单时的初始部门与技术员
type OpenInput struct {
	DepartmentID string
	TechnicianID string
}

// Open 记录创建事件,指定部门时生成第一个阶段,同时指定技术员则直接开始。
// 只指定技术员时仅记录在维修单上,不生成阶段
func (e *Engine) Open(p auth.Principal, r *Repair, in OpenInput) error {
	now := e.now()
	e.trail.Append(r, NewEvent(p.UserID, now, CreatePayload{
		RepairNumber: r.RepairNumber,
		DepartmentID: in.DepartmentID,
		TechnicianID: in.TechnicianID,
	}))

	if in.DepartmentID == "" {
		r.TechnicianID = in.TechnicianID
		r.reindex()
		return nil
	}

	stage := FlowStage{
		ID:           e.newID(),
		DepartmentID: in.DepartmentID,
		TechnicianID: in.TechnicianID,
		Status:       StageWaiting,
	}
	r.CurrentDepartmentID = in.DepartmentID

	if in.TechnicianID != "" {
		if err := stage.transition(StageInProgress, now); err != nil {
			return err
		}
		r.TechnicianID = in.TechnicianID
		r.Status = StatusInProgress
		if r.StartTime == nil {
			r.StartTime = timePtr(now)
		}
	}
	r.Flows = append(r.Flows, stage)
	r.reindex()

	if stage.Status == StageInProgress {
		e.trail.Append(r, NewEvent(p.UserID, now, FlowStartPayload{
			StageID:      stage.ID,
			DepartmentID: stage.DepartmentID,
			TechnicianID: stage.TechnicianID,
		}))
	}
	return nil
}

// resolveActive 解析目标阶段,stageID 为空时取当前未完成阶段
func resolveActive(r *Repair, stageID string) (int, error) {
	if len(r.Flows) == 0 {
		return -1, ErrNoActiveStage
	}
	idx := r.ActiveStage
	if stageID != "" {
		i, err := r.StageIndex(stageID)
		if err != nil {
			return -1, err
		}
		idx = i
	}
	if idx < 0 || idx != r.ActiveStage {
		return -1, ErrNotCurrentStep
	}
	return idx, nil
}

// AssignInput 分配技术员参数
type AssignInput struct {
	StageID      string
	TechnicianID string
}

// AssignTechnician 为当前阶段分配技术员,等待中的阶段随之开始,维修单同时进入进行中
func (e *Engine) AssignTechnician(ctx context.Context, p auth.Principal, r *Repair, in AssignInput) error {
	if in.TechnicianID == "" {
		return ErrTechnicianRequired
	}
	idx, err := resolveActive(r, in.StageID)
	if err != nil {
		return err
	}
	if err := e.guard.Authorize(ctx, GuardRequest{
		Principal:    p,
		Repair:       r,
		StageIndex:   idx,
		Action:       ActionAssignTechnician,
		TechnicianID: in.TechnicianID,
	}); err != nil {
		return err
	}

	now := e.now()
	stage := &r.Flows[idx]
	previous := stage.TechnicianID
	stage.TechnicianID = in.TechnicianID
	r.TechnicianID = in.TechnicianID

	started := false
	if stage.Status == StageWaiting {
		if err := stage.transition(StageInProgress, now); err != nil {
			return err
		}
		started = true
	}
	r.reindex()

	e.trail.Append(r, NewEvent(p.UserID, now, AssignTechnicianPayload{
		StageID:              stage.ID,
		DepartmentID:         stage.DepartmentID,
		TechnicianID:         in.TechnicianID,
		PreviousTechnicianID: previous,
		SelfAssigned:         in.TechnicianID == p.UserID,
	}))
	if started {
		e.trail.Append(r, NewEvent(p.UserID, now, FlowStartPayload{
			StageID:      stage.ID,
			DepartmentID: stage.DepartmentID,
			TechnicianID: stage.TechnicianID,
		}))
	}

	if started && r.Status != StatusInProgress {
		from := r.Status
		r.Status = StatusInProgress
		if r.StartTime == nil {
			r.StartTime = timePtr(now)
		}
		e.trail.Append(r, NewEvent(p.UserID, now, StatusChangePayload{From: from, To: StatusInProgress}))
	}
	return nil
}

// AttachTechnician 维修单层面改派技术员时同步到尚未分配技术员的当前阶段,
// 不改变阶段状态;授权由调用方负责
func (e *Engine) AttachTechnician(p auth.Principal, r *Repair, technicianID string) bool {
	stage := r.Active()
	if technicianID == "" || stage == nil || stage.TechnicianID != "" {
		return false
	}
	stage.TechnicianID = technicianID
	e.trail.Append(r, NewEvent(p.UserID, e.now(), AssignTechnicianPayload{
		StageID:      stage.ID,
		DepartmentID: stage.DepartmentID,
		TechnicianID: technicianID,
		SelfAssigned: technicianID == p.UserID,
	}))
	return true
}

// CompleteInput 完成阶段参数
type CompleteInput struct {
	StageID string
	Price   *float64
	Notes   *string
}

// CompleteStep 完成当前阶段,不会自动流转到下一个部门
func (e *Engine) CompleteStep(ctx context.Context, p auth.Principal, r *Repair, in CompleteInput) error {
	idx, err := resolveActive(r, in.StageID)
	if err != nil {
		return err
	}
	if in.Price != nil && *in.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if err := e.guard.Authorize(ctx, GuardRequest{
		Principal:  p,
		Repair:     r,
		StageIndex: idx,
		Action:     ActionCompleteStep,
	}); err != nil {
		return err
	}

	now := e.now()
	stage := &r.Flows[idx]
	if err := stage.forceComplete(now); err != nil {
		return err
	}
	if in.Price != nil {
		stage.Price = *in.Price
	}
	if in.Notes != nil {
		stage.Notes = *in.Notes
	}
	r.reindex()

	e.trail.Append(r, NewEvent(p.UserID, now, FlowCompletePayload{
		StageID:      stage.ID,
		DepartmentID: stage.DepartmentID,
		Price:        stage.Price,
		Notes:        stage.Notes,
	}))
	return nil
}

// MoveNext 当前阶段完成后流转到下一个部门;还没有阶段时不做授权检查
func (e *Engine) MoveNext(ctx context.Context, p auth.Principal, r *Repair, departmentID string) error {
	if departmentID == "" {
		return ErrDepartmentRequired
	}
	if r.ActiveStage >= 0 {
		return ErrStageNotCompleted
	}

	from := ""
	if tail := r.Tail(); tail != nil {
		if err := e.guard.Authorize(ctx, GuardRequest{
			Principal:  p,
			Repair:     r,
			StageIndex: r.TailIndex(),
			Action:     ActionMoveNext,
		}); err != nil {
			return err
		}
		from = tail.DepartmentID
	}

	now := e.now()
	stage := FlowStage{
		ID:           e.newID(),
		DepartmentID: departmentID,
		Status:       StageWaiting,
	}
	r.Flows = append(r.Flows, stage)
	r.CurrentDepartmentID = departmentID
	r.reindex()

	e.trail.Append(r, NewEvent(p.UserID, now, MoveNextPayload{
		StageID:          stage.ID,
		FromDepartmentID: from,
		ToDepartmentID:   departmentID,
	}))

	if r.Status != StatusPending {
		prev := r.Status
		r.Status = StatusPending
		e.trail.Append(r, NewEvent(p.UserID, now, StatusChangePayload{From: prev, To: StatusPending}))
	}
	return nil
}

// StatusInput 维修单状态变更参数
type StatusInput struct {
	Status Status
	// RejectedLocation 仅在拒修时使用
	RejectedLocation string
}

// ApplyStatus 变更维修单状态并同步当前阶段;字段级授权由调用方负责
func (e *Engine) ApplyStatus(p auth.Principal, r *Repair, in StatusInput) error {
	if _, ok := validStatuses[in.Status]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	from := r.Status
	if in.Status == StatusReturned && from != StatusReturned {
		switch {
		case from == StatusRejected && !e.allowReturnAfterReject:
			return fmt.Errorf("%w: rejected repairs cannot be returned", ErrIllegalTransition)
		case from != StatusDelivered && from != StatusRejected && from != StatusCompleted:
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, in.Status)
		}
	}

	now := e.now()
	e.applyStatusFields(r, in, now)
	if from == in.Status {
		return nil
	}

	r.Status = in.Status
	e.trail.Append(r, NewEvent(p.UserID, now, StatusChangePayload{From: from, To: in.Status}))

	switch {
	case in.Status == StatusInProgress:
		if stage := r.Active(); stage != nil && stage.Status == StageWaiting && stage.TechnicianID != "" {
			if err := stage.transition(StageInProgress, now); err != nil {
				return err
			}
			e.trail.Append(r, NewEvent(p.UserID, now, FlowStartPayload{
				StageID:      stage.ID,
				DepartmentID: stage.DepartmentID,
				TechnicianID: stage.TechnicianID,
			}))
		}
	case in.Status.IsTerminal():
		if stage := r.Active(); stage != nil {
			if err := stage.forceComplete(now); err != nil {
				return err
			}
			e.trail.Append(r, NewEvent(p.UserID, now, FlowCompletePayload{
				StageID:      stage.ID,
				DepartmentID: stage.DepartmentID,
				Price:        stage.Price,
				Notes:        stage.Notes,
				Forced:       true,
			}))
		}
	case in.Status == StatusReturned:
		if tail := r.Tail(); tail != nil && tail.Status == StageCompleted {
			stage := FlowStage{
				ID:           e.newID(),
				DepartmentID: tail.DepartmentID,
				Status:       StageWaiting,
			}
			r.Flows = append(r.Flows, stage)
			r.CurrentDepartmentID = stage.DepartmentID
			e.trail.Append(r, NewEvent(p.UserID, now, MoveNextPayload{
				StageID:          stage.ID,
				FromDepartmentID: stage.DepartmentID,
				ToDepartmentID:   stage.DepartmentID,
				Reopened:         true,
			}))
		}
	}
	r.reindex()
	return nil
}

// applyStatusFields 维修单层面的时间戳和交付信息
func (e *Engine) applyStatusFields(r *Repair, in StatusInput, now time.Time) {
	switch in.Status {
	case StatusInProgress:
		if r.StartTime == nil {
			r.StartTime = timePtr(now)
		}
	case StatusCompleted:
		if r.EndTime == nil {
			r.EndTime = timePtr(now)
		}
	case StatusDelivered:
		r.DeliveryDate = timePtr(now)
		r.Returned = false
		r.ReturnDate = nil
	case StatusReturned:
		r.Returned = true
		r.ReturnDate = timePtr(now)
	case StatusRejected:
		loc := NormalizeRejectedLocation(in.RejectedLocation)
		r.RejectedDeviceLocation = loc
		if loc == LocationWithCustomer {
			if r.DeliveryDate == nil {
				r.DeliveryDate = timePtr(now)
			}
		} else {
			r.DeliveryDate = nil
		}
	}
}
