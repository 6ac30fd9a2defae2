package workflow

import (
	"errors"
	"fmt"
	"time"
)

// FlowStage 维修单在某个部门的一次停留
type FlowStage struct {
	ID           string      `json:"id"`
	DepartmentID string      `json:"department"`
	TechnicianID string      `json:"technician,omitempty"`
	Status       StageStatus `json:"status"`
	Price        float64     `json:"price"`
	Notes        string      `json:"notes,omitempty"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// transition 按阶段状态机迁移,进入 in_progress 时补记开始时间
func (s *FlowStage) transition(next StageStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: stage %s -> %s", ErrIllegalTransition, s.Status, next)
	}
	switch next {
	case StageInProgress:
		if s.StartedAt == nil {
			s.StartedAt = timePtr(now)
		}
	case StageCompleted:
		if s.StartedAt == nil {
			s.StartedAt = timePtr(now)
		}
		s.CompletedAt = timePtr(now)
	}
	s.Status = next
	return nil
}

// forceComplete 经由 in_progress 结束阶段
func (s *FlowStage) forceComplete(now time.Time) error {
	if s.Status == StageWaiting {
		if err := s.transition(StageInProgress, now); err != nil {
			return err
		}
	}
	return s.transition(StageCompleted, now)
}

// Part 维修使用的配件
type Part struct {
	Name         string     `json:"name"`
	Source       string     `json:"source,omitempty"`
	Supplier     string     `json:"supplier,omitempty"`
	Cost         float64    `json:"cost"`
	PurchaseDate *time.Time `json:"purchaseDate,omitempty"`
	Qty          int        `json:"qty"`
	Paid         bool       `json:"paid"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	PaidBy       string     `json:"paidBy,omitempty"`
}

// Validate 校验配件
func (p Part) Validate() error {
	if p.Name == "" {
		return errors.New("part name is required")
	}
	if p.Qty < 1 {
		return errors.New("part qty must be at least 1")
	}
	if p.Cost < 0 {
		return errors.New("part cost must not be negative")
	}
	return nil
}

// PublicTracking 公开查询链接
type PublicTracking struct {
	Token        string     `json:"token,omitempty"`
	Enabled      bool       `json:"enabled"`
	ShowPrice    bool       `json:"showPrice"`
	ShowEta      bool       `json:"showEta"`
	Views        int64      `json:"views"`
	LastViewedAt *time.Time `json:"lastViewedAt,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

// Warranty 保修信息
type Warranty struct {
	HasWarranty bool       `json:"hasWarranty"`
	End         *time.Time `json:"warrantyEnd,omitempty"`
	Notes       string     `json:"warrantyNotes,omitempty"`
}

// 客户动态类型
const (
	CustomerUpdateText  = "text"
	CustomerUpdateImage = "image"
	CustomerUpdateVideo = "video"
	CustomerUpdateAudio = "audio"
)

// CustomerUpdate 发给客户的进度动态,公开的条目会出现在公开查询页
type CustomerUpdate struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	IsPublic  bool      `json:"isPublic"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate 文本动态需要内容,其余类型需要文件地址
func (u CustomerUpdate) Validate() error {
	switch u.Type {
	case CustomerUpdateText:
		if u.Text == "" {
			return errors.New("text update requires text")
		}
	case CustomerUpdateImage, CustomerUpdateVideo, CustomerUpdateAudio:
		if u.FileURL == "" {
			return errors.New("media update requires fileUrl")
		}
	default:
		return fmt.Errorf("unknown update type %q", u.Type)
	}
	return nil
}

// Repair 维修单文档
type Repair struct {
	ID                     string           `json:"id"`
	RepairNumber           int64            `json:"repairId"`
	CustomerName           string           `json:"customerName"`
	Phone                  string           `json:"phone,omitempty"`
	DeviceType             string           `json:"deviceType"`
	Color                  string           `json:"color,omitempty"`
	Issue                  string           `json:"issue,omitempty"`
	Price                  float64          `json:"price"`
	FinalPrice             *float64         `json:"finalPrice,omitempty"`
	TechnicianID           string           `json:"technician,omitempty"`
	RecipientID            string           `json:"recipient,omitempty"`
	Parts                  []Part           `json:"parts"`
	Status                 Status           `json:"status"`
	Notes                  string           `json:"notes,omitempty"`
	StartTime              *time.Time       `json:"startTime,omitempty"`
	EndTime                *time.Time       `json:"endTime,omitempty"`
	DeliveryDate           *time.Time       `json:"deliveryDate,omitempty"`
	Returned               bool             `json:"returned"`
	ReturnDate             *time.Time       `json:"returnDate,omitempty"`
	RejectedDeviceLocation RejectedLocation `json:"rejectedDeviceLocation,omitempty"`
	Tracking               PublicTracking   `json:"publicTracking"`
	ETA                    *time.Time       `json:"eta,omitempty"`
	NotesPublic            string           `json:"notesPublic,omitempty"`
	Warranty               Warranty         `json:"warranty"`
	CustomerUpdates        []CustomerUpdate `json:"customerUpdates,omitempty"`
	CreatedBy              string           `json:"createdBy,omitempty"`
	UpdatedBy              string           `json:"updatedBy,omitempty"`
	Flows                  []FlowStage      `json:"flows"`
	ActiveStage            int              `json:"activeStage"` // 未完成阶段的下标,没有时为 -1
	CurrentDepartmentID    string           `json:"currentDepartment,omitempty"`
	Events                 EventLog         `json:"logs"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
	Version                int64            `json:"-"`
}

// NewRepair 创建空白维修单
func NewRepair(id string, number int64, now time.Time) *Repair {
	return &Repair{
		ID:           id,
		RepairNumber: number,
		Status:       StatusPending,
		Parts:        []Part{},
		Flows:        []FlowStage{},
		ActiveStage:  -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TailIndex 最后一个阶段的下标,没有阶段时为 -1
func (r *Repair) TailIndex() int {
	return len(r.Flows) - 1
}

// Tail 最后一个阶段
func (r *Repair) Tail() *FlowStage {
	if len(r.Flows) == 0 {
		return nil
	}
	return &r.Flows[len(r.Flows)-1]
}

// Active 当前未完成的阶段
func (r *Repair) Active() *FlowStage {
	if r.ActiveStage < 0 || r.ActiveStage >= len(r.Flows) {
		return nil
	}
	return &r.Flows[r.ActiveStage]
}

// StageIndex 按 ID 查找阶段下标
func (r *Repair) StageIndex(stageID string) (int, error) {
	for i := range r.Flows {
		if r.Flows[i].ID == stageID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
}

// reindex 重新计算 ActiveStage,每次流程变更后调用
func (r *Repair) reindex() {
	r.ActiveStage = -1
	if tail := r.Tail(); tail != nil && tail.Status != StageCompleted {
		r.ActiveStage = len(r.Flows) - 1
	}
}

// PriceTotal 各部门阶段价格之和
func (r *Repair) PriceTotal() float64 {
	var total float64
	for _, s := range r.Flows {
		total += s.Price
	}
	return total
}

// HasStageTechnician 是否曾被分配到任一阶段
func (r *Repair) HasStageTechnician(userID string) bool {
	for _, s := range r.Flows {
		if s.TechnicianID != "" && s.TechnicianID == userID {
			return true
		}
	}
	return false
}

// CheckInvariants 校验流程不变量
func (r *Repair) CheckInvariants() error {
	open := -1
	for i, s := range r.Flows {
		if s.Status != StageCompleted {
			if open != -1 {
				return fmt.Errorf("stages %d and %d are both open", open, i)
			}
			open = i
		} else if s.StartedAt == nil {
			return fmt.Errorf("stage %d completed without start time", i)
		}
	}
	if open != -1 && open != len(r.Flows)-1 {
		return fmt.Errorf("open stage %d is not the last stage", open)
	}
	if open != r.ActiveStage {
		return fmt.Errorf("active stage index %d does not match open stage %d", r.ActiveStage, open)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
