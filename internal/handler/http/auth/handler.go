package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/service/auth"
	"ispilo-backend/pkg/response"
)

// Handler handles auth HTTP requests
type Handler struct {
	authService *auth.Service
}

// NewHandler creates a new auth handler
func NewHandler(authService *auth.Service) *Handler {
	return &Handler{authService: authService}
}

// Register creates a user account
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req domain.UserRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// Login authenticates a user and issues a bearer token
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req domain.UserLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
