package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// FlowController 部门流程控制器
type FlowController struct {
	flows service.FlowService
}

// NewFlowController 创建流程控制器
func NewFlowController(flows service.FlowService) *FlowController {
	return &FlowController{flows: flows}
}

// Assign 为当前阶段指派技术员
// @Summary      指派技术员
// @Tags         流程
// @Accept       json
// @Produce      json
// @Param        id path string true "维修单 ID"
// @Param        request body service.AssignTechnicianRequest true "指派信息"
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /repairs/{id}/flow/assign [post]
// @Security     BearerAuth
func (c *FlowController) Assign(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.AssignTechnicianRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	view, err := c.flows.AssignTechnician(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Complete 完成当前阶段
func (c *FlowController) Complete(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.CompleteStepRequest
	// 请求体可以为空
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			BadRequest(ctx, err)
			return
		}
	}

	view, err := c.flows.CompleteStep(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// MoveNext 转交下一个部门
func (c *FlowController) MoveNext(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.MoveNextRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	view, err := c.flows.MoveNext(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Timeline 流程时间线
func (c *FlowController) Timeline(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}

	timeline, err := c.flows.Timeline(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, timeline)
}
