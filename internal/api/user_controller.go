package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/service"
)

// UserController 用户与登录控制器
type UserController struct {
	users service.UserService
}

// NewUserController 创建用户控制器
func NewUserController(users service.UserService) *UserController {
	return &UserController{users: users}
}

// Login 用户名密码登录,返回访问令牌
// @Summary      登录
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body service.LoginRequest true "登录信息"
// @Success      200  {object}  Response
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/login [post]
func (c *UserController) Login(ctx *gin.Context) {
	var req service.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	result, err := c.users.Login(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, result)
}

// Me 当前用户
func (c *UserController) Me(ctx *gin.Context) {
	principal, err := c.users.Me(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, principal)
}

// Create 新建用户
func (c *UserController) Create(ctx *gin.Context) {
	var req service.CreateUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	user, err := c.users.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, user)
}

// SetDepartment 更换用户所属部门
func (c *UserController) SetDepartment(ctx *gin.Context) {
	id, ok := validateID(ctx, "id")
	if !ok {
		return
	}
	var req service.SetDepartmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}

	user, err := c.users.SetDepartment(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, user)
}
