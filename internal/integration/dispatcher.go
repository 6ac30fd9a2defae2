package integration

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Realtime 实时推送通道
type Realtime interface {
	EmitToUser(userID, event string, data interface{}) int
	EmitToTracking(token, event string, data interface{}) int
}

type noopRealtime struct{}

func (noopRealtime) EmitToUser(string, string, interface{}) int     { return 0 }
func (noopRealtime) EmitToTracking(string, string, interface{}) int { return 0 }

// DispatcherConfig 分发器配置
type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxRetries  int
	Workers     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *DispatcherConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
}

// Dispatcher 通知 outbox 分发器
// 每条记录:写入站内通知,推送实时事件,发送 Web Push,最后标记为已发送。
// 站内通知写入失败时按指数退避重试,超过次数后标记失败;推送失败只记录日志。
type Dispatcher struct {
	outbox        repository.OutboxRepository
	notifications repository.NotificationRepository
	subscriptions repository.PushSubscriptionRepository
	realtime      Realtime
	push          PushSender
	cfg           DispatcherConfig
	logger        logrus.FieldLogger
	now           func() time.Time

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewDispatcher 创建分发器,realtime 和 push 可以为 nil
func NewDispatcher(
	outbox repository.OutboxRepository,
	notifications repository.NotificationRepository,
	subscriptions repository.PushSubscriptionRepository,
	realtime Realtime,
	push PushSender,
	cfg DispatcherConfig,
	logger logrus.FieldLogger,
) *Dispatcher {
	cfg.normalize()
	if realtime == nil {
		realtime = noopRealtime{}
	}
	if push == nil {
		push = NoopSender{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		outbox:        outbox,
		notifications: notifications,
		subscriptions: subscriptions,
		realtime:      realtime,
		push:          push,
		cfg:           cfg,
		logger:        logger.WithField("component", "dispatcher"),
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start 启动定时分发
func (d *Dispatcher) Start(ctx context.Context) {
	if d.started.Swap(true) {
		return
	}
	go d.loop(ctx)
}

// Stop 停止分发并等待当前批次结束
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	if d.started.Load() {
		<-d.done
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.logger.WithError(err).Warn("failed to drain notification outbox")
			}
		}
	}
}

// DrainOnce 处理一批到期记录,返回处理条数
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	records, err := d.outbox.FindDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		d.updateBacklog(ctx)
		return 0, nil
	}

	jobs := make(chan *model.OutboxModel)
	var wg sync.WaitGroup
	workers := d.cfg.Workers
	if workers > len(records) {
		workers = len(records)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				d.Process(ctx, record)
			}
		}()
	}
	for _, record := range records {
		jobs <- record
	}
	close(jobs)
	wg.Wait()

	d.updateBacklog(ctx)
	return len(records), nil
}

// Process 处理单条记录
func (d *Dispatcher) Process(ctx context.Context, record *model.OutboxModel) {
	log := d.logger.WithFields(logrus.Fields{
		"outbox_id": record.ID,
		"repair_id": record.RepairID,
		"kind":      record.Kind,
	})

	payload, err := DecodeNotificationPayload(record.Payload)
	if err != nil {
		log.WithError(err).Error("dropping malformed outbox record")
		d.markFailed(ctx, record, err.Error())
		return
	}

	recipients := dedupe(payload.Recipients)
	notifications, err := d.persist(ctx, payload, recipients)
	if err != nil {
		log.WithError(err).Warn("failed to persist notifications")
		d.retry(ctx, record, err.Error())
		return
	}

	for _, n := range notifications {
		d.realtime.EmitToUser(n.UserID, websocket.EventNotificationNew, n)
	}
	if payload.TrackingToken != "" && payload.Public != nil {
		d.realtime.EmitToTracking(payload.TrackingToken, websocket.EventRepairUpdate, payload.Public)
	}

	d.sendPush(ctx, log, payload, recipients)

	if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
		log.WithError(err).Warn("failed to mark outbox record as sent")
		return
	}
	metrics.RecordNotificationDispatch("sent")
}

func (d *Dispatcher) persist(ctx context.Context, payload NotificationPayload, recipients []string) ([]*model.NotificationModel, error) {
	var meta datatypes.JSON
	if len(payload.Meta) > 0 {
		raw, err := json.Marshal(payload.Meta)
		if err != nil {
			return nil, err
		}
		meta = raw
	}

	now := d.now()
	items := make([]*model.NotificationModel, 0, len(recipients))
	for _, userID := range recipients {
		items = append(items, &model.NotificationModel{
			ID:        uuid.NewString(),
			UserID:    userID,
			Message:   payload.Message,
			Type:      payload.Type,
			Meta:      meta,
			CreatedAt: now,
		})
	}
	if err := d.notifications.CreateBatch(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *Dispatcher) sendPush(ctx context.Context, log logrus.FieldLogger, payload NotificationPayload, recipients []string) {
	if len(recipients) == 0 || d.subscriptions == nil {
		return
	}
	subs, err := d.subscriptions.FindByUsers(ctx, recipients)
	if err != nil {
		log.WithError(err).Warn("failed to load push subscriptions")
		return
	}

	msg := PushMessage{Title: "Repair update", Body: payload.Message, URL: payload.URL, Meta: payload.Meta}
	for _, sub := range subs {
		target := PushSubscription{Endpoint: sub.Endpoint}
		target.Keys.P256dh = sub.P256dh
		target.Keys.Auth = sub.Auth

		err := d.push.Send(ctx, target, msg)
		switch {
		case err == nil:
		case IsSubscriptionGone(err):
			if delErr := d.subscriptions.Delete(ctx, sub.ID); delErr != nil {
				log.WithError(delErr).Warn("failed to delete expired push subscription")
			} else {
				log.WithField("subscription_id", sub.ID).Info("deleted expired push subscription")
			}
		default:
			log.WithError(err).WithField("subscription_id", sub.ID).Warn("push delivery failed")
		}
	}
}

func (d *Dispatcher) retry(ctx context.Context, record *model.OutboxModel, reason string) {
	attempt := record.RetryCount + 1
	if attempt >= d.cfg.MaxRetries {
		d.markFailed(ctx, record, reason)
		return
	}
	next := d.now().Add(d.Backoff(attempt))
	if err := d.outbox.MarkRetry(ctx, record.ID, attempt, next, reason); err != nil {
		d.logger.WithError(err).WithField("outbox_id", record.ID).Warn("failed to schedule outbox retry")
		return
	}
	metrics.RecordNotificationDispatch("retry")
}

func (d *Dispatcher) markFailed(ctx context.Context, record *model.OutboxModel, reason string) {
	if err := d.outbox.MarkFailed(ctx, record.ID, reason); err != nil {
		d.logger.WithError(err).WithField("outbox_id", record.ID).Warn("failed to mark outbox record as failed")
		return
	}
	metrics.RecordNotificationDispatch("failed")
}

// Backoff 第 attempt 次重试前的等待时间
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}

func (d *Dispatcher) updateBacklog(ctx context.Context) {
	pending, err := d.outbox.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.SetOutboxPending(float64(pending))
}
