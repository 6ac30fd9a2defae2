package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusCounter 维修单状态统计来源
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// PendingCounter 待分发通知统计来源
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// Collector 指标收集器,定期刷新连接池、状态分布和 outbox 积压
type Collector struct {
	db       *gorm.DB
	repairs  StatusCounter
	outbox   PendingCounter
	interval time.Duration
	logger   logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器,repairs 和 outbox 可以为 nil
func NewCollector(db *gorm.DB, repairs StatusCounter, outbox PendingCounter, interval time.Duration, logger logrus.FieldLogger) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		db:       db,
		repairs:  repairs,
		outbox:   outbox,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	c.CollectOnce(c.ctx)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce(c.ctx)
		}
	}
}

// CollectOnce 收集一次指标
func (c *Collector) CollectOnce(ctx context.Context) {
	if err := UpdateDatabaseConnections(c.db); err != nil {
		c.logger.WithError(err).Debug("failed to collect database metrics")
	}
	if c.repairs != nil {
		counts, err := c.repairs.CountByStatus(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("failed to collect repair status metrics")
		}
		for status, count := range counts {
			UpdateRepairsByStatus(status, float64(count))
		}
	}
	if c.outbox != nil {
		pending, err := c.outbox.CountPending(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("failed to collect outbox metrics")
			return
		}
		SetOutboxPending(float64(pending))
	}
}
