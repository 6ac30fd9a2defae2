package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// StatisticsController 统计控制器
type StatisticsController struct {
	statistics service.StatisticsService
}

// NewStatisticsController 创建统计控制器
func NewStatisticsController(statistics service.StatisticsService) *StatisticsController {
	return &StatisticsController{statistics: statistics}
}

// ByStatus 按状态统计
func (c *StatisticsController) ByStatus(ctx *gin.Context) {
	stats, err := c.statistics.RepairsByStatus(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// ByDay 按天统计,days 默认 30
func (c *StatisticsController) ByDay(ctx *gin.Context) {
	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "30"))
	stats, err := c.statistics.RepairsByDay(ctx.Request.Context(), days)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// ByTechnician 按技术员统计
func (c *StatisticsController) ByTechnician(ctx *gin.Context) {
	stats, err := c.statistics.RepairsByTechnician(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}
