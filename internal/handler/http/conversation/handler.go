package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/service/chat"
	"ispilo-backend/internal/service/conversation"
	"ispilo-backend/pkg/pagination"
	"ispilo-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
	chatService         *chat.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service, chatService *chat.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
		chatService:         chatService,
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

func pathConversationID(c *gin.Context) (uuid.UUID, bool) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid conversation ID")
		return uuid.Nil, false
	}
	return conversationID, true
}

// Create creates a conversation
// POST /api/conversations
func (h *Handler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req domain.ConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, conv)
}

// List retrieves the caller's conversations
// GET /api/conversations?page=0&size=20
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	params := pagination.Parse(c.Query("page"), c.Query("size"))
	conversations, hasMore, err := h.conversationService.ListForUser(c.Request.Context(), userID, params)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.Page{
		Page:    params.Page,
		Size:    params.Size,
		HasMore: hasMore,
		Data:    conversations,
	})
}

// Get retrieves one conversation
// GET /api/conversations/:id
func (h *Handler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.Get(c.Request.Context(), userID, conversationID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// Leave removes the caller from a conversation
// DELETE /api/conversations/:id
func (h *Handler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	if err := h.conversationService.Leave(c.Request.Context(), userID, conversationID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "left conversation",
	})
}

// Messages retrieves a page of decrypted message history, newest first
// GET /api/conversations/:id/messages?page=0&size=20
func (h *Handler) Messages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	params := pagination.Parse(c.Query("page"), c.Query("size"))
	messages, hasMore, err := h.chatService.History(c.Request.Context(), userID, conversationID, params)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.Page{
		Page:    params.Page,
		Size:    params.Size,
		HasMore: hasMore,
		Data:    messages,
	})
}

// MarkRead flags every unread message not sent by the caller as read
// PUT /api/conversations/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	if err := h.chatService.MarkRead(c.Request.Context(), userID, conversationID); err != nil {
		response.AppError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
