package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/service"
	"github.com/mautops/repair-gin/internal/websocket"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Config *config.Config
	DB     *gorm.DB
	Health HealthChecker // 为空表示未启用 OpenFGA
	Tokens *auth.TokenManager
	Users  auth.UserLoader
	Hub    *websocket.Hub

	Repairs       service.RepairService
	Flows         service.FlowService
	Tracking      service.TrackingService
	Departments   service.DepartmentService
	UserService   service.UserService
	Notifications service.NotificationService
	AuditLog      service.AuditLogService
	Statistics    service.StatisticsService
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	router := gin.New()

	// 中间件
	router.Use(ErrorHandlerMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(I18nMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware(cfg.Tracing))
	}
	router.NoRoute(NoRouteHandler)

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.Health)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// WebSocket 路由,令牌通过查询参数传递
	if deps.Hub != nil {
		var validator websocket.TokenValidator
		if deps.Tokens != nil {
			validator = deps.Tokens
		}
		router.GET("/ws", websocket.WebSocketHandler(deps.Hub, validator, websocket.Upgrader(cfg.CORS.AllowedOrigins)))
	}

	limited := router.Group("")
	limited.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	// 公开查询,无需登录
	trackingController := NewTrackingController(deps.Tracking)
	limited.GET("/api/public/t/:token", trackingController.PublicView)

	userController := NewUserController(deps.UserService)
	limited.POST("/api/v1/auth/login", userController.Login)

	// API v1 路由组
	v1 := limited.Group("/api/v1")
	v1.Use(auth.AuthMiddleware(deps.Tokens, deps.Users))
	{
		v1.GET("/auth/me", userController.Me)
		v1.POST("/users", userController.Create)
		v1.PUT("/users/:id/department", userController.SetDepartment)

		repairController := NewRepairController(deps.Repairs)
		flowController := NewFlowController(deps.Flows)
		repairs := v1.Group("/repairs")
		{
			repairs.POST("", repairController.Create)
			repairs.GET("", repairController.List)
			repairs.GET("/:id", repairController.Get)
			repairs.PATCH("/:id", repairController.Update)
			repairs.PUT("/:id", repairController.Update)
			repairs.DELETE("/:id", repairController.Delete)

			repairs.POST("/:id/flow/assign", flowController.Assign)
			repairs.POST("/:id/flow/complete", flowController.Complete)
			repairs.POST("/:id/flow/move-next", flowController.MoveNext)
			repairs.GET("/:id/timeline", flowController.Timeline)

			repairs.POST("/:id/public-tracking", trackingController.Configure)
			repairs.POST("/:id/customer-updates", repairController.AddCustomerUpdate)
		}

		departmentController := NewDepartmentController(deps.Departments)
		departments := v1.Group("/departments")
		{
			departments.GET("", departmentController.List)
			departments.POST("", departmentController.Create)
			departments.PUT("/:id/monitor", departmentController.SetMonitor)
			departments.GET("/:id/technicians", departmentController.Technicians)
			departments.GET("/:id/repairs", repairController.ListByDepartment)
		}

		notificationController := NewNotificationController(deps.Notifications)
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", notificationController.List)
			notifications.GET("/unread-count", notificationController.UnreadCount)
			notifications.POST("/read-all", notificationController.MarkAllRead)
			notifications.POST("/:id/read", notificationController.MarkRead)
		}
		push := v1.Group("/push")
		{
			push.POST("/subscribe", notificationController.Subscribe)
			push.POST("/unsubscribe", notificationController.Unsubscribe)
		}

		statisticsController := NewStatisticsController(deps.Statistics)
		statistics := v1.Group("/statistics")
		{
			statistics.GET("/status", statisticsController.ByStatus)
			statistics.GET("/daily", statisticsController.ByDay)
			statistics.GET("/technicians", statisticsController.ByTechnician)
		}

		auditController := NewAuditLogController(deps.AuditLog)
		v1.GET("/audit-logs", auth.RequireCapability(auth.Capabilities.IsAdmin), auditController.List)
	}

	return router
}
