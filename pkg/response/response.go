package response

import (
	"time"

	"github.com/gin-gonic/gin"

	"ispilo-backend/pkg/errors"
)

// Response represents the standard API response envelope
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta: Meta{
			Timestamp: time.Now().UTC(),
			RequestID: getRequestID(c),
		},
	})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    errorCode,
			Message: errorMessage,
		},
		Meta: Meta{
			Timestamp: time.Now().UTC(),
			RequestID: getRequestID(c),
		},
	})
}

// AppError maps an application error onto the response envelope
func AppError(c *gin.Context, err error) {
	appErr := errors.GetAppError(err)
	Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, 400, "VALIDATION_ERROR", message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, 401, "UNAUTHORIZED", message)
}

// Forbidden sends forbidden error (403)
func Forbidden(c *gin.Context, message string) {
	Error(c, 403, "FORBIDDEN", message)
}

// NotFound sends not found error (404)
func NotFound(c *gin.Context, message string) {
	Error(c, 404, "NOT_FOUND", message)
}

// InternalError sends internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, 500, "INTERNAL_ERROR", message)
}

func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}
