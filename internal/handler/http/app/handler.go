package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/service/appidentity"
	"ispilo-backend/pkg/crypto"
	"ispilo-backend/pkg/response"
)

// Handler handles app identity HTTP requests
type Handler struct {
	appService *appidentity.Service
}

// NewHandler creates a new app identity handler
func NewHandler(appService *appidentity.Service) *Handler {
	return &Handler{appService: appService}
}

// Register issues credentials for a new app installation
// POST /api/app/register
func (h *Handler) Register(c *gin.Context) {
	var req domain.AppRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	credential, err := h.appService.Register(c.Request.Context(), &req)
	if err != nil {
		response.AppError(c, err)
		return
	}

	// The one and only time the app private key is sent
	response.Success(c, http.StatusCreated, gin.H{
		"app_id":               credential.AppID,
		"app_private_key":      credential.AppPrivateKey,
		"server_public_key":    credential.ServerPublicKey,
		"encryption_algorithm": credential.EncryptionAlgorithm,
		"registered_at":        credential.RegisteredAt,
	})
}

// PublicKey returns the server public key to a verified installation
// GET /api/app/public-key
func (h *Handler) PublicKey(c *gin.Context) {
	publicKey, err := h.appService.ServerPublicKey()
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"server_public_key":    publicKey,
		"encryption_algorithm": crypto.AlgorithmLabel,
		"key_size":             crypto.RSAKeySize,
	})
}

// Verify reports whether an app ID names an active installation
// GET /api/app/verify/:appId
func (h *Handler) Verify(c *gin.Context) {
	valid, err := h.appService.IsValid(c.Request.Context(), c.Param("appId"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	status := "inactive"
	if valid {
		status = "active"
	}
	response.Success(c, http.StatusOK, gin.H{
		"app_id":   c.Param("appId"),
		"is_valid": valid,
		"status":   status,
	})
}

// Deactivate retires an app installation. Safe to repeat.
// POST /api/app/deactivate/:appId
func (h *Handler) Deactivate(c *gin.Context) {
	if err := h.appService.Deactivate(c.Request.Context(), c.Param("appId")); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "app deactivated",
	})
}
