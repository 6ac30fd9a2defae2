package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/repair-gin/internal/config"
	"github.com/sirupsen/logrus"
)

// PushSubscription 推送目标
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushMessage 推送内容
type PushMessage struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	URL   string                 `json:"url,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// PushSender 推送通道
type PushSender interface {
	Send(ctx context.Context, sub PushSubscription, msg PushMessage) error
	Close() error
}

// PushError 推送服务返回的错误状态
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push endpoint returned status %d", e.StatusCode)
}

// IsSubscriptionGone 订阅已失效(404/410),应删除
func IsSubscriptionGone(err error) bool {
	var pe *PushError
	if errors.As(err, &pe) {
		return pe.StatusCode == 404 || pe.StatusCode == 410
	}
	return false
}

// NoopSender 未配置推送通道时使用
type NoopSender struct{}

// Send 丢弃消息
func (NoopSender) Send(context.Context, PushSubscription, PushMessage) error { return nil }

// Close 无需释放资源
func (NoopSender) Close() error { return nil }

// NewPushSender 按配置创建推送通道
func NewPushSender(cfg config.PushConfig, logger logrus.FieldLogger) (PushSender, error) {
	switch cfg.Driver {
	case "", "none":
		return NoopSender{}, nil
	case "webhook":
		return NewWebhookSender(cfg.WebhookURL, cfg.Timeout)
	case "nats":
		return NewNATSSender(cfg.NATSURL, cfg.NATSSubject, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported push driver: %s", cfg.Driver)
	}
}
