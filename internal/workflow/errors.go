package workflow

import "errors"

// 流程错误,由 API 层统一映射为 HTTP 状态码
var (
	// ErrForbidden 操作人无权执行该流转
	ErrForbidden = errors.New("forbidden")
	// ErrNotCurrentStep 目标阶段不是当前阶段
	ErrNotCurrentStep = errors.New("not the current step")
	// ErrNoActiveStage 维修单还没有任何流程阶段
	ErrNoActiveStage = errors.New("no active flow")
	// ErrStageNotCompleted 当前阶段未完成,不能流转到下一个部门
	ErrStageNotCompleted = errors.New("current stage is not completed")
	// ErrStageNotFound 阶段不存在
	ErrStageNotFound = errors.New("stage not found")
	// ErrIllegalTransition 非法状态迁移
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrInvalidStatus 未知的维修单状态
	ErrInvalidStatus = errors.New("invalid status")
	// ErrTechnicianRequired 未指定技术员
	ErrTechnicianRequired = errors.New("technician is required")
	// ErrDepartmentRequired 未指定部门
	ErrDepartmentRequired = errors.New("department is required")
	// ErrInvalidInput 参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownEventType 未知事件类型
	ErrUnknownEventType = errors.New("unknown event type")
)
