package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

const defaultAuditLimit = 50

// AuditLogController 操作审计日志查询,仅管理员可用
type AuditLogController struct {
	audit service.AuditLogService
}

// NewAuditLogController 创建审计日志控制器
func NewAuditLogController(audit service.AuditLogService) *AuditLogController {
	return &AuditLogController{audit: audit}
}

// List 按用户或资源查询审计日志
// 查询参数 userId 与 resourceType+resourceId 二选一
func (c *AuditLogController) List(ctx *gin.Context) {
	userID := ctx.Query("userId")
	resourceType := ctx.Query("resourceType")
	resourceID := ctx.Query("resourceId")

	switch {
	case userID != "":
		limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit)))
		if err != nil || limit <= 0 || limit > 500 {
			limit = defaultAuditLimit
		}
		logs, err := c.audit.ListByUser(ctx.Request.Context(), userID, limit)
		if err != nil {
			HandleError(ctx, err)
			return
		}
		Success(ctx, logs)
	case resourceType != "" && resourceID != "":
		logs, err := c.audit.ListByResource(ctx.Request.Context(), resourceType, resourceID)
		if err != nil {
			HandleError(ctx, err)
			return
		}
		Success(ctx, logs)
	default:
		Error(ctx, http.StatusBadRequest, T(ctx, "error.bad_request"), "userId or resourceType and resourceId required")
	}
}
