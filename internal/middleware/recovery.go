package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/response"
)

// Recovery recovers from handler panics and returns a 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("handler panic",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path))
				response.InternalError(c, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthCheck short-circuits /health with a liveness response
func HealthCheck(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.JSON(http.StatusOK, gin.H{
				"status":  "healthy",
				"service": serviceName,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
