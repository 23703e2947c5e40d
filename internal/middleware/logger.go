package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ispilo-backend/pkg/logger"
)

// RequestLogger tags each request with an ID and logs its outcome
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request served", fields...)
		}
	}
}
