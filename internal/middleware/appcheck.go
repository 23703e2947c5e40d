package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"ispilo-backend/pkg/response"
)

// AppValidator reports whether an app credential is active and bound to the
// presenting device
type AppValidator interface {
	ValidateApp(ctx context.Context, appID, deviceID string) (bool, error)
}

// AppCheckMiddleware gates endpoints behind a registered, active app
// installation identified by the X-App-ID and X-Device-ID headers
func AppCheckMiddleware(validator AppValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.GetHeader("X-App-ID")
		if appID == "" {
			response.Forbidden(c, "app credentials required")
			c.Abort()
			return
		}

		valid, err := validator.ValidateApp(c.Request.Context(), appID, c.GetHeader("X-Device-ID"))
		if err != nil {
			response.InternalError(c, "app validation failed")
			c.Abort()
			return
		}
		if !valid {
			response.Forbidden(c, "app not registered or deactivated")
			c.Abort()
			return
		}

		c.Set("app_id", appID)
		c.Next()
	}
}
