package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender 通过 HTTP 推送网关发送 Web Push
type WebhookSender struct {
	url        string
	httpClient *http.Client
}

type webhookRequest struct {
	Subscription PushSubscription `json:"subscription"`
	Notification PushMessage      `json:"notification"`
}

// NewWebhookSender 创建推送网关客户端
func NewWebhookSender(url string, timeout time.Duration) (*WebhookSender, error) {
	if url == "" {
		return nil, errors.New("push webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send 发送推送请求,网关返回非 2xx 时返回 *PushError
func (s *WebhookSender) Send(ctx context.Context, sub PushSubscription, msg PushMessage) error {
	body, err := json.Marshal(webhookRequest{Subscription: sub, Notification: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PushError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return nil
}

// Close 无需释放资源
func (s *WebhookSender) Close() error {
	return nil
}
