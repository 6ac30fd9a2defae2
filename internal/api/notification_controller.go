package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// NotificationController 站内通知与推送订阅控制器
type NotificationController struct {
	notifications service.NotificationService
}

// NewNotificationController 创建通知控制器
func NewNotificationController(notifications service.NotificationService) *NotificationController {
	return &NotificationController{notifications: notifications}
}

// List 当前用户的通知
func (c *NotificationController) List(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("pageSize", "20"))

	result, err := c.notifications.List(ctx.Request.Context(), page, pageSize)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	ctx.Header("X-Unread-Count", strconv.FormatInt(result.Unread, 10))
	Paginated(ctx, result.Items, NewPaginationInfo(result.Page, result.PageSize, result.Total))
}

// MarkRead 标记已读
func (c *NotificationController) MarkRead(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	if err := c.notifications.MarkRead(ctx.Request.Context(), id); err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"id": id, "read": true})
}

// MarkAllRead 全部标记已读
func (c *NotificationController) MarkAllRead(ctx *gin.Context) {
	updated, err := c.notifications.MarkAllRead(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"updated": updated})
}

// UnreadCount 未读通知数
func (c *NotificationController) UnreadCount(ctx *gin.Context) {
	count, err := c.notifications.UnreadCount(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"count": count})
}

// Subscribe 保存推送订阅
func (c *NotificationController) Subscribe(ctx *gin.Context) {
	var req service.SubscribeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	if err := c.notifications.Subscribe(ctx.Request.Context(), &req); err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, gin.H{"endpoint": req.Endpoint})
}

// Unsubscribe 删除推送订阅
func (c *NotificationController) Unsubscribe(ctx *gin.Context) {
	var req service.UnsubscribeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	if err := c.notifications.Unsubscribe(ctx.Request.Context(), &req); err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"message": T(ctx, "success.deleted")})
}
