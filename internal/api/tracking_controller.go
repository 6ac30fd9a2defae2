package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// TrackingController 公开查询控制器
type TrackingController struct {
	tracking service.TrackingService
}

// NewTrackingController 创建公开查询控制器
func NewTrackingController(tracking service.TrackingService) *TrackingController {
	return &TrackingController{tracking: tracking}
}

// Configure 开启、关闭或重新生成公开查询链接
// @Summary      配置公开查询
// @Tags         公开查询
// @Accept       json
// @Produce      json
// @Param        id path string true "维修单 ID"
// @Param        request body service.TrackingRequest true "配置"
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Router       /repairs/{id}/public-tracking [post]
// @Security     BearerAuth
func (c *TrackingController) Configure(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.TrackingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	result, err := c.tracking.Configure(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, result)
}

// PublicView 匿名查询维修进度
func (c *TrackingController) PublicView(ctx *gin.Context) {
	token := strings.TrimSpace(ctx.Param("token"))
	if token == "" {
		Error(ctx, http.StatusNotFound, T(ctx, "error.not_found"), "")
		return
	}

	view, err := c.tracking.PublicView(ctx.Request.Context(), token)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}
