package workflow

import (
	"fmt"
	"strings"
)

// StageStatus 部门阶段状态
type StageStatus string

const (
	StageWaiting    StageStatus = "waiting"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
)

// CanTransitionTo 阶段状态只允许 waiting -> in_progress -> completed
func (s StageStatus) CanTransitionTo(next StageStatus) bool {
	switch s {
	case StageWaiting:
		return next == StageInProgress
	case StageInProgress:
		return next == StageCompleted
	}
	return false
}

// Status 维修单状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusDelivered  Status = "delivered"
	StatusRejected   Status = "rejected"
	StatusReturned   Status = "returned"
)

var validStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusDelivered:  {},
	StatusRejected:   {},
	StatusReturned:   {},
}

// AllStatuses 按业务顺序列出全部状态
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusDelivered, StatusRejected, StatusReturned}
}

// ParseStatus 解析维修单状态
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if _, ok := validStatuses[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// IsTerminal completed/delivered/rejected 会强制结束当前阶段
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDelivered || s == StatusRejected
}

// RejectedLocation 拒修设备所在位置
type RejectedLocation string

const (
	LocationShop         RejectedLocation = "shop"
	LocationWithCustomer RejectedLocation = "with_customer"
)

// NormalizeRejectedLocation 归一化拒修设备位置,无法识别时视为在店内
func NormalizeRejectedLocation(s string) RejectedLocation {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == string(LocationWithCustomer),
		strings.Contains(v, "customer"),
		strings.Contains(v, "client"),
		strings.Contains(v, "العميل"):
		return LocationWithCustomer
	}
	return LocationShop
}
