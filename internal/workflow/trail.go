package workflow

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// DefaultAuditWindow 时间线默认返回的事件数
const DefaultAuditWindow = 200

// Trail 维修单审计事件的追加与读取
type Trail struct {
	logger logrus.FieldLogger
}

// NewTrail 创建审计轨迹
func NewTrail(logger logrus.FieldLogger) *Trail {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trail{logger: logger}
}

// Append 追加事件;不完整的事件只记录日志,不影响主流程
func (t *Trail) Append(r *Repair, e Event) {
	if !e.Valid() {
		t.logger.WithFields(logrus.Fields{
			"repair_id":  r.ID,
			"event_type": e.Type,
		}).Warn("skipping malformed audit event")
		return
	}
	r.Events = append(r.Events, e)
}

// Read 过滤无效事件,按时间倒序,最多返回 window 条
func (t *Trail) Read(log EventLog, window int) []Event {
	if window <= 0 {
		window = DefaultAuditWindow
	}
	out := make([]Event, 0, len(log))
	// 逆序收集,时间相同时后追加的排在前面
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Valid() {
			out = append(out, log[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	if len(out) > window {
		out = out[:window]
	}
	return out
}
