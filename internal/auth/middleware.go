package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/model"
)

// UserLoader 按 ID 读取用户
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*model.UserModel, error)
}

// ExtractToken 依次从 Authorization 头、token cookie、token 查询参数中读取令牌
func ExtractToken(c *gin.Context) string {
	if hdr := c.GetHeader("Authorization"); hdr != "" {
		if len(hdr) > 7 && strings.EqualFold(hdr[:7], "Bearer ") {
			return strings.TrimSpace(hdr[7:])
		}
	}
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// AuthMiddleware 校验令牌并从存储中重新加载用户,计算本次请求的能力集合
func AuthMiddleware(tokens *TokenManager, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abortUnauthorized(c, "missing authorization token", "")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			abortUnauthorized(c, "invalid token", err.Error())
			return
		}

		user, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil || user == nil {
			abortUnauthorized(c, "user not found", "")
			return
		}

		p := PrincipalFromUser(user)
		c.Set("user_id", p.UserID)
		c.Set("username", p.Username)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))

		c.Next()
	}
}

// RequireCapability 要求当前用户满足指定条件,否则返回 403
func RequireCapability(check func(Capabilities) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := PrincipalFrom(c.Request.Context())
		if err != nil {
			abortUnauthorized(c, "unauthorized", "")
			return
		}
		if !check(p.Caps) {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "forbidden",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message, detail string) {
	body := gin.H{
		"code":    401,
		"message": message,
	}
	if detail != "" {
		body["detail"] = detail
	}
	c.JSON(http.StatusUnauthorized, body)
	c.Abort()
}
