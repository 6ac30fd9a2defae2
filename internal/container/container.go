package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/api"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/database"
	"github.com/mautops/repair-gin/internal/integration"
	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/service"
	"github.com/mautops/repair-gin/internal/websocket"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const metricsInterval = 30 * time.Second

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、服务、后台任务等
type Container struct {
	cfg    *config.Config
	db     *gorm.DB
	logger logrus.FieldLogger

	fgaClient *auth.OpenFGAClient
	tokens    *auth.TokenManager
	users     repository.UserRepository

	repairs       service.RepairService
	flows         service.FlowService
	tracking      service.TrackingService
	departments   service.DepartmentService
	userService   service.UserService
	notifications service.NotificationService
	auditLog      service.AuditLogService
	audit         service.AuditService
	statistics    service.StatisticsService

	hub        *websocket.Hub
	push       integration.PushSender
	dispatcher *integration.Dispatcher
	collector  *metrics.Collector
	running    bool
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(cfg *config.Config, logger logrus.FieldLogger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// 1. 初始化数据库(带重试机制)
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c, err := Build(cfg, db, logger)
	if err != nil {
		_ = closeDB(db)
		return nil, err
	}
	return c, nil
}

// Build 在已有数据库连接上组装服务,测试中直接使用
func Build(cfg *config.Config, db *gorm.DB, logger logrus.FieldLogger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, db: db, logger: logger}

	// 2. 仓储
	repairs := repository.NewRepairRepository(db)
	users := repository.NewUserRepository(db)
	departments := repository.NewDepartmentRepository(db)
	outbox := repository.NewOutboxRepository(db)
	notifications := repository.NewNotificationRepository(db)
	subscriptions := repository.NewPushSubscriptionRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	c.users = users

	// 3. OpenFGA 可选,未配置时部门主管关系直接查数据库
	var directory *auth.MonitorDirectory
	if cfg.OpenFGA.APIURL != "" {
		fgaClient, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = fgaClient
		cached := auth.NewCachedRelationClient(fgaClient, auth.NewPermissionCache(cfg.OpenFGA.CacheTTL))
		directory = auth.NewMonitorDirectory(cached)
	}

	// 4. 流程引擎
	monitors := service.NewMonitorChecker(departments, directory)
	trail := workflow.NewTrail(logger)
	engine := workflow.NewEngine(
		workflow.NewGuard(monitors),
		trail,
		workflow.WithReturnAfterReject(cfg.Workflow.AllowReturnAfterReject),
	)

	// 5. 服务
	location := cfg.App.Location()
	c.auditLog = service.NewAuditLogService(auditRepo, logger)
	c.audit = service.NewAuditService(trail, users, cfg.Audit.Window, logger)
	c.tokens = auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)

	deps := service.RepairDeps{
		Repairs:     repairs,
		Sequence:    repository.NewSequenceRepository(db),
		Users:       users,
		Departments: departments,
		Monitors:    monitors,
		Engine:      engine,
		Audit:       c.audit,
		AuditLog:    c.auditLog,
		Location:    location,
		Logger:      logger,
	}
	c.repairs = service.NewRepairService(deps)
	c.flows = service.NewFlowService(deps)
	c.tracking = service.NewTrackingService(repairs, c.auditLog, cfg.App.PublicBaseURL, logger)
	c.departments = service.NewDepartmentService(departments, users, c.auditLog, logger, directory)
	c.userService = service.NewUserService(users, departments, monitors, c.tokens, c.auditLog)
	c.notifications = service.NewNotificationService(notifications, subscriptions)
	c.statistics = service.NewStatisticsService(db, repairs, users, location)

	// 6. 实时推送与通知分发
	c.hub = websocket.NewHub(logger)
	push, err := integration.NewPushSender(cfg.Notification.Push, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize push sender: %w", err)
	}
	c.push = push
	c.dispatcher = integration.NewDispatcher(
		outbox,
		notifications,
		subscriptions,
		c.hub,
		push,
		integration.DispatcherConfig{
			Interval:   cfg.Notification.DispatchInterval,
			BatchSize:  cfg.Notification.BatchSize,
			MaxRetries: cfg.Notification.MaxRetries,
			Workers:    cfg.Notification.Workers,
		},
		logger,
	)
	c.collector = metrics.NewCollector(db, repairs, outbox, metricsInterval, logger)

	return c, nil
}

// Router 创建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	deps := api.RouterDeps{
		Config:        c.cfg,
		DB:            c.db,
		Tokens:        c.tokens,
		Users:         c.users,
		Hub:           c.hub,
		Repairs:       c.repairs,
		Flows:         c.flows,
		Tracking:      c.tracking,
		Departments:   c.departments,
		UserService:   c.userService,
		Notifications: c.notifications,
		AuditLog:      c.auditLog,
		Statistics:    c.statistics,
	}
	// 接口变量不能直接接收 nil 指针
	if c.fgaClient != nil {
		deps.Health = c.fgaClient
	}
	return api.SetupRoutes(deps)
}

// StartBackground 启动 WebSocket hub、通知分发器和指标采集
func (c *Container) StartBackground(ctx context.Context) {
	go c.hub.Run()
	c.dispatcher.Start(ctx)
	c.collector.Start()
	c.running = true
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// OpenFGAClient 获取 OpenFGA 客户端,未配置时为 nil
func (c *Container) OpenFGAClient() *auth.OpenFGAClient {
	return c.fgaClient
}

// Users 获取用户服务
func (c *Container) Users() service.UserService {
	return c.userService
}

// Audit 获取时间线审计服务,配置热更新时调整窗口
func (c *Container) Audit() service.AuditService {
	return c.audit
}

// Dispatcher 获取通知分发器
func (c *Container) Dispatcher() *integration.Dispatcher {
	return c.dispatcher
}

// Hub 获取 WebSocket hub
func (c *Container) Hub() *websocket.Hub {
	return c.hub
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	// 采集器未启动时 Stop 会阻塞
	if c.running {
		c.collector.Stop()
	}
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.hub != nil {
		c.hub.Stop()
	}
	if c.push != nil {
		if err := c.push.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to close push sender")
		}
	}
	return closeDB(c.db)
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
