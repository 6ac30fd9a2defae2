package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
	"github.com/mautops/repair-gin/internal/utils"
)

// RepairController 维修单控制器
type RepairController struct {
	repairs service.RepairService
}

// NewRepairController 创建维修单控制器
func NewRepairController(repairs service.RepairService) *RepairController {
	return &RepairController{repairs: repairs}
}

// validateID 校验路径中的 ID,无效时写入 400
func validateID(ctx *gin.Context, name string) (string, bool) {
	id := ctx.Param(name)
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.bad_request"), err.Error())
		return "", false
	}
	return id, true
}

// Create 新建维修单
// @Summary      新建维修单
// @Tags         维修单
// @Accept       json
// @Produce      json
// @Param        request body service.CreateRepairRequest true "维修单信息"
// @Success      201  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /repairs [post]
// @Security     BearerAuth
func (c *RepairController) Create(ctx *gin.Context) {
	var req service.CreateRepairRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	repair, err := c.repairs.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, repair)
}

// List 维修单列表
// @Summary      维修单列表
// @Description  按角色过滤可见范围,支持关键字、状态、技术员、部门和日期筛选
// @Tags         维修单
// @Produce      json
// @Success      200  {object}  PaginatedResponse
// @Router       /repairs [get]
// @Security     BearerAuth
func (c *RepairController) List(ctx *gin.Context) {
	var req service.ListRepairsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	list, err := c.repairs.List(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, list.Items, NewPaginationInfo(list.Page, list.PageSize, list.Total))
}

// Get 维修单详情
func (c *RepairController) Get(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}

	repair, err := c.repairs.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, repair)
}

// Update 部分更新,只处理请求体中出现的字段
// @Summary      更新维修单
// @Tags         维修单
// @Accept       json
// @Produce      json
// @Param        id path string true "维修单 ID"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /repairs/{id} [patch]
// @Security     BearerAuth
func (c *RepairController) Update(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var body map[string]json.RawMessage
	if err := ctx.ShouldBindJSON(&body); err != nil {
		BadRequest(ctx, err)
		return
	}

	repair, err := c.repairs.Update(ctx.Request.Context(), id, body)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, repair)
}

// Delete 删除维修单
func (c *RepairController) Delete(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}

	if err := c.repairs.Delete(ctx.Request.Context(), id); err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"message": T(ctx, "success.deleted")})
}

// ListByDepartment 部门当前的维修单
func (c *RepairController) ListByDepartment(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.DepartmentRepairsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	list, err := c.repairs.ListByDepartment(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, list.Items, NewPaginationInfo(list.Page, list.PageSize, list.Total))
}

// AddCustomerUpdate 新增客户动态
// @Summary      新增客户动态
// @Tags         维修单
// @Accept       json
// @Produce      json
// @Param        id      path string                        true "维修单 ID"
// @Param        request body service.CustomerUpdateRequest true "动态内容"
// @Success      201  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /repairs/{id}/customer-updates [post]
func (c *RepairController) AddCustomerUpdate(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.CustomerUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	update, err := c.repairs.AddCustomerUpdate(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, update)
}
