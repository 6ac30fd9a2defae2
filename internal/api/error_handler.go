package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/logging"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/service"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// errorMapping 领域错误到状态码和消息键
var errorMapping = []struct {
	target error
	status int
	key    string
}{
	{auth.ErrNoPrincipal, http.StatusUnauthorized, "error.unauthorized"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "error.invalid_credentials"},
	{service.ErrPasswordRequired, http.StatusBadRequest, "error.password_required"},
	{service.ErrWrongPassword, http.StatusBadRequest, "error.wrong_password"},
	{service.ErrFieldNotAllowed, http.StatusForbidden, "error.field_not_allowed"},
	{workflow.ErrForbidden, http.StatusForbidden, "error.forbidden"},
	{workflow.ErrStageNotFound, http.StatusNotFound, "error.stage_not_found"},
	{repository.ErrNotFound, http.StatusNotFound, "error.not_found"},
	{workflow.ErrNotCurrentStep, http.StatusConflict, "error.not_current_step"},
	{workflow.ErrStageNotCompleted, http.StatusConflict, "error.stage_not_completed"},
	{workflow.ErrIllegalTransition, http.StatusConflict, "error.illegal_transition"},
	{repository.ErrVersionConflict, http.StatusConflict, "error.version_conflict"},
	{repository.ErrDuplicate, http.StatusConflict, "error.duplicate"},
	{workflow.ErrNoActiveStage, http.StatusBadRequest, "error.no_active_stage"},
	{workflow.ErrTechnicianRequired, http.StatusBadRequest, "error.technician_required"},
	{workflow.ErrDepartmentRequired, http.StatusBadRequest, "error.department_required"},
	{workflow.ErrInvalidStatus, http.StatusBadRequest, "error.invalid_status"},
	{workflow.ErrInvalidInput, http.StatusBadRequest, "error.bad_request"},
}

// StatusFor 返回错误对应的状态码和消息键
func StatusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.key
		}
	}
	var validation *utils.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, "error.bad_request"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, ""
	}
	return http.StatusInternalServerError, "error.internal_error"
}

// HandleError 按错误类型写入响应,5xx 不向客户端暴露细节
func HandleError(c *gin.Context, err error) {
	status, key := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Get().WithError(err).WithFields(map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
			"path":       c.FullPath(),
		}).Error("request failed")
		Error(c, status, T(c, key), "")
		return
	}

	message := T(c, key)
	var apiErr *APIError
	if key == "" && errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	Error(c, status, message, err.Error())
}

// BadRequest 请求参数绑定失败
func BadRequest(c *gin.Context, err error) {
	Error(c, http.StatusBadRequest, T(c, "error.bad_request"), err.Error())
}

// ErrorHandlerMiddleware 处理 handler 通过 c.Error 记录的错误以及 panic
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				HandleError(c, fmt.Errorf("panic: %v", r))
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}

// NoRouteHandler 未匹配路由返回 JSON 格式的 404
func NoRouteHandler(c *gin.Context) {
	Error(c, http.StatusNotFound, T(c, "error.route_not_found"), c.Request.Method+" "+c.Request.URL.Path)
}
