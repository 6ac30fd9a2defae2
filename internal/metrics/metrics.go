package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 维修单创建数
	repairsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repairs_created_total",
			Help: "Total number of repair tickets created",
		},
	)

	// 流程操作数
	flowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_transitions_total",
			Help: "Total number of flow operations by action and result",
		},
		[]string{"action", "result"}, // result: ok, forbidden, conflict, invalid, error
	)

	// 通知分发结果
	notificationsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of outbox records processed by result",
		},
		[]string{"result"}, // sent, retry, failed
	)

	// 待分发通知数
	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_outbox_pending",
			Help: "Number of pending notification outbox records",
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 维修单状态分布
	repairsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repairs_by_status",
			Help: "Number of repair tickets by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(repairsCreatedTotal)
	prometheus.MustRegister(flowTransitionsTotal)
	prometheus.MustRegister(notificationsDispatchedTotal)
	prometheus.MustRegister(outboxPending)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(repairsByStatus)

	// Go 运行时指标只注册一次
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordRepairCreated 记录维修单创建
func RecordRepairCreated() {
	repairsCreatedTotal.Inc()
}

// RecordFlowTransition 记录流程操作结果
func RecordFlowTransition(action, result string) {
	flowTransitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordNotificationDispatch 记录 outbox 分发结果
func RecordNotificationDispatch(result string) {
	notificationsDispatchedTotal.WithLabelValues(result).Inc()
}

// SetOutboxPending 更新待分发通知数
func SetOutboxPending(count float64) {
	outboxPending.Set(count)
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateRepairsByStatus 更新维修单状态分布指标
func UpdateRepairsByStatus(status string, count float64) {
	repairsByStatus.WithLabelValues(status).Set(count)
}
