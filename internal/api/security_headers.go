package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersMiddleware 安全头中间件
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// 公开查询页面会被分享出去,不缓存
		if strings.HasPrefix(c.Request.URL.Path, "/api/public/") {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}
