package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// natsReply 推送网关的应答,status 沿用 HTTP 语义
type natsReply struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NATSSender 通过 NATS request/reply 把推送交给网关
type NATSSender struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewNATSSender 连接 NATS 并创建推送通道
func NewNATSSender(url, subject string, timeout time.Duration, logger logrus.FieldLogger) (*NATSSender, error) {
	if subject == "" {
		return nil, errors.New("nats subject is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	conn, err := nats.Connect(url,
		nats.Name("repair-gin-push"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSSender(conn, subject, timeout, logger), nil
}

func newNATSSender(conn *nats.Conn, subject string, timeout time.Duration, logger logrus.FieldLogger) *NATSSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATSSender{conn: conn, subject: subject, timeout: timeout, logger: logger}
}

// Send 发送推送请求并等待网关应答
func (s *NATSSender) Send(ctx context.Context, sub PushSubscription, msg PushMessage) error {
	data, err := json.Marshal(webhookRequest{Subscription: sub, Notification: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.conn.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish push request: %w", err)
	}

	var r natsReply
	if err := json.Unmarshal(reply.Data, &r); err != nil {
		// 网关未按约定应答时视为已接收
		s.logger.WithError(err).Debug("unparseable push gateway reply")
		return nil
	}
	if r.Status != 0 && (r.Status < 200 || r.Status >= 300) {
		return &PushError{StatusCode: r.Status, Body: r.Error}
	}
	return nil
}

// Close 关闭连接
func (s *NATSSender) Close() error {
	s.conn.Close()
	return nil
}
