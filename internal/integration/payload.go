package integration

import (
	"encoding/json"
	"fmt"
)

// outbox 记录类型
const (
	KindRepairCreated = "repair.created"
	KindRepairUpdated = "repair.updated"
	KindRepairFlow    = "repair.flow"
	KindRepairDeleted = "repair.deleted"
)

// NotificationPayload outbox 中保存的通知意图,接收人在写入时确定
type NotificationPayload struct {
	Recipients []string               `json:"recipients"`
	Message    string                 `json:"message"`
	Type       string                 `json:"type"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	URL        string                 `json:"url,omitempty"`
	// TrackingToken 非空时向公开查询房间推送 Public
	TrackingToken string      `json:"trackingToken,omitempty"`
	Public        interface{} `json:"public,omitempty"`
}

// Encode 编码为 outbox 负载
func (p NotificationPayload) Encode() ([]byte, error) {
	if p.Message == "" {
		return nil, fmt.Errorf("notification message is required")
	}
	return json.Marshal(p)
}

// DecodeNotificationPayload 解码 outbox 负载
func DecodeNotificationPayload(data []byte) (NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return p, nil
}

// dedupe 去重并去掉空 ID,保持原顺序
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
