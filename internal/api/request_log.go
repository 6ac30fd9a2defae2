package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/logging"
	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/mautops/repair-gin/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware 透传或生成请求 ID,并把请求来源写入 context 供审计日志使用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			RequestID: requestID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogMiddleware 请求日志中间件
func RequestLogMiddleware() gin.HandlerFunc {
	logger := logging.Get()

	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// 使用路由模板作为指标标签,避免 ID 造成高基数
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		latency := time.Since(start)
		status := c.Writer.Status()

		metrics.RecordAPIRequest(method, path, status, latency.Seconds())

		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    latency.String(),
			"ip":         c.ClientIP(),
		})
		if userID := c.GetString("user_id"); userID != "" {
			entry = entry.WithField("user_id", userID)
		}

		if status >= 500 {
			entry.Error("API request")
		} else if status >= 400 {
			entry.Warn("API request")
		} else {
			entry.Info("API request")
		}
	}
}
