package service

import (
	"errors"
	"fmt"

	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
)

var (
	// ErrPasswordRequired 技术员修改维修单时需要输入密码确认
	ErrPasswordRequired = &utils.ValidationError{Code: "PASSWORD_REQUIRED", Message: "password is required to confirm"}
	// ErrWrongPassword 确认密码错误
	ErrWrongPassword = &utils.ValidationError{Code: "WRONG_PASSWORD", Message: "password is incorrect"}
	// ErrInvalidCredentials 登录失败
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrFieldNotAllowed 修改了不允许的字段
	ErrFieldNotAllowed = fmt.Errorf("%w: field is not editable", workflow.ErrForbidden)
	// ErrNotVisible 无权查看该维修单
	ErrNotVisible = fmt.Errorf("%w: repair is not visible", workflow.ErrForbidden)
)

// invalidInput 参数错误,映射为 400
func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", workflow.ErrInvalidInput, fmt.Sprintf(format, args...))
}
