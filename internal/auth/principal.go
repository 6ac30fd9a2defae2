package auth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mautops/repair-gin/internal/model"
)

// ErrNoPrincipal 请求上下文中没有已认证用户
var ErrNoPrincipal = errors.New("no authenticated principal")

// Principal 当前操作人,包含从用户存储实时读取的角色与能力
type Principal struct {
	UserID       string       `json:"id"`
	Username     string       `json:"username"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	DepartmentID string       `json:"department,omitempty"`
	Caps         Capabilities `json:"permissions"`
}

// PrincipalFromUser 从用户记录构造 Principal
func PrincipalFromUser(u *model.UserModel) Principal {
	return Principal{
		UserID:       u.ID,
		Username:     u.Username,
		Name:         u.DisplayName(),
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
		Caps:         Resolve(u.Role, decodeRawPermissions(u.Permissions), decodeRawPermissions(u.Perms)),
	}
}

// decodeRawPermissions 兼容对象和字符串数组两种存储形态,无法解析时视为无权限
func decodeRawPermissions(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make(map[string]interface{}, len(list))
		for _, k := range list {
			out[k] = true
		}
		return out
	}
	return nil
}

type principalKey struct{}

// WithPrincipal 将 Principal 写入 context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom 从 context 读取 Principal
func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}
