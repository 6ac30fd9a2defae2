package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// DepartmentController 部门控制器
type DepartmentController struct {
	departments service.DepartmentService
}

// NewDepartmentController 创建部门控制器
func NewDepartmentController(departments service.DepartmentService) *DepartmentController {
	return &DepartmentController{departments: departments}
}

// List 部门列表
func (c *DepartmentController) List(ctx *gin.Context) {
	list, err := c.departments.List(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, list)
}

// Create 新建部门
func (c *DepartmentController) Create(ctx *gin.Context) {
	var req service.CreateDepartmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	dept, err := c.departments.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, dept)
}

// SetMonitor 设置部门主管
func (c *DepartmentController) SetMonitor(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.SetMonitorRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	view, err := c.departments.SetMonitor(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Technicians 部门成员
func (c *DepartmentController) Technicians(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	list, err := c.departments.Technicians(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, list)
}
