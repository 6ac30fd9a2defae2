package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType 事件类型
type EventType string

const (
	EventCreate           EventType = "create"
	EventAssignTechnician EventType = "assign_technician"
	EventFlowStart        EventType = "flow_start"
	EventFlowComplete     EventType = "flow_complete"
	EventMoveNext         EventType = "move_next"
	EventStatusChange     EventType = "status_change"
	EventUpdate           EventType = "update"
	EventDelete           EventType = "delete"
)

// Payload 事件负载,每种事件类型对应一个具体结构
type Payload interface {
	EventType() EventType
}

type CreatePayload struct {
	RepairNumber int64  `json:"repairId"`
	DepartmentID string `json:"department,omitempty"`
	TechnicianID string `json:"technician,omitempty"`
}

type AssignTechnicianPayload struct {
	StageID              string `json:"stageId"`
	DepartmentID         string `json:"department"`
	TechnicianID         string `json:"technician"`
	PreviousTechnicianID string `json:"previousTechnician,omitempty"`
	SelfAssigned         bool   `json:"selfAssigned,omitempty"`
}

type FlowStartPayload struct {
	StageID      string `json:"stageId"`
	DepartmentID string `json:"department"`
	TechnicianID string `json:"technician,omitempty"`
}

type FlowCompletePayload struct {
	StageID      string  `json:"stageId"`
	DepartmentID string  `json:"department"`
	Price        float64 `json:"price"`
	Notes        string  `json:"notes,omitempty"`
	// Forced 由维修单状态变更自动结束
	Forced bool `json:"forced,omitempty"`
}

type MoveNextPayload struct {
	StageID          string `json:"stageId"`
	FromDepartmentID string `json:"from,omitempty"`
	ToDepartmentID   string `json:"to"`
	// Reopened 退回后在同一部门重新开启
	Reopened bool `json:"reopened,omitempty"`
}

type StatusChangePayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// FieldChange 单个字段的变更
type FieldChange struct {
	Field string      `json:"field"`
	From  interface{} `json:"from"`
	To    interface{} `json:"to"`
}

type UpdatePayload struct {
	Changes []FieldChange `json:"changes"`
}

type DeletePayload struct {
	RepairNumber int64 `json:"repairId"`
}

func (CreatePayload) EventType() EventType           { return EventCreate }
func (AssignTechnicianPayload) EventType() EventType { return EventAssignTechnician }
func (FlowStartPayload) EventType() EventType        { return EventFlowStart }
func (FlowCompletePayload) EventType() EventType     { return EventFlowComplete }
func (MoveNextPayload) EventType() EventType         { return EventMoveNext }
func (StatusChangePayload) EventType() EventType     { return EventStatusChange }
func (UpdatePayload) EventType() EventType           { return EventUpdate }
func (DeletePayload) EventType() EventType           { return EventDelete }

func newPayload(t EventType) (Payload, error) {
	switch t {
	case EventCreate:
		return &CreatePayload{}, nil
	case EventAssignTechnician:
		return &AssignTechnicianPayload{}, nil
	case EventFlowStart:
		return &FlowStartPayload{}, nil
	case EventFlowComplete:
		return &FlowCompletePayload{}, nil
	case EventMoveNext:
		return &MoveNextPayload{}, nil
	case EventStatusChange:
		return &StatusChangePayload{}, nil
	case EventUpdate:
		return &UpdatePayload{}, nil
	case EventDelete:
		return &DeletePayload{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
}

// Event 不可变的审计事件
type Event struct {
	Type    EventType
	ActorID string
	At      time.Time
	Payload Payload

	// raw 保存无法解析的历史记录,原样写回
	raw json.RawMessage
}

// NewEvent 创建事件,类型由负载决定
func NewEvent(actorID string, at time.Time, payload Payload) Event {
	return Event{
		Type:    payload.EventType(),
		ActorID: actorID,
		At:      at,
		Payload: payload,
	}
}

// Valid 事件是否完整可用
func (e Event) Valid() bool {
	return e.raw == nil && e.Payload != nil && e.Type != "" &&
		e.Payload.EventType() == e.Type && !e.At.IsZero()
}

type eventEnvelope struct {
	Type    EventType       `json:"type"`
	ActorID string          `json:"actorId,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON 编码为 {type, actorId, at, payload}
func (e Event) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		Type:    e.Type,
		ActorID: e.ActorID,
		At:      e.At,
		Payload: payload,
	})
}

// UnmarshalJSON 按 type 解码具体负载,未知类型返回错误
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := newPayload(env.Type)
	if err != nil {
		return err
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	*e = Event{
		Type:    env.Type,
		ActorID: env.ActorID,
		At:      env.At,
		Payload: derefPayload(payload),
	}
	return nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *CreatePayload:
		return *v
	case *AssignTechnicianPayload:
		return *v
	case *FlowStartPayload:
		return *v
	case *FlowCompletePayload:
		return *v
	case *MoveNextPayload:
		return *v
	case *StatusChangePayload:
		return *v
	case *UpdatePayload:
		return *v
	case *DeletePayload:
		return *v
	}
	return p
}

// EventLog 事件日志,解码时保留无法识别的记录以保证只追加不删除
type EventLog []Event

// UnmarshalJSON 逐条解码,无法解析的记录以原始形式保留
func (l *EventLog) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(EventLog, 0, len(items))
	for _, item := range items {
		var e Event
		if err := json.Unmarshal(item, &e); err != nil {
			e = Event{raw: append(json.RawMessage(nil), item...)}
		}
		out = append(out, e)
	}
	*l = out
	return nil
}
