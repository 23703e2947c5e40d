package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/service/broadcast"
	"ispilo-backend/internal/service/chat"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/jwt"
	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/metrics"
)

// Inbound operations
const (
	OpChatSend   = "chat.send"
	OpChatTyping = "chat.typing"
	OpChatRead   = "chat.read"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer in front
	},
}

// Presence tracks which users hold live connections
type Presence interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
}

// Frame is the inbound client envelope
type Frame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// TypingFrame is the chat.typing payload
type TypingFrame struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

// ReadFrame is the chat.read payload
type ReadFrame struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// Client is one authenticated WebSocket connection
type Client struct {
	hub    *ChatHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

// userStream is the per-user Redis subscription shared by all of that
// user's connections on this instance
type userStream struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// ChatHub manages WebSocket connections keyed by user. Each user gets one
// subscription to their private event channel; events are pumped to every
// connection that user holds here.
type ChatHub struct {
	chatService *chat.Service
	broadcaster *broadcast.Broadcaster
	presence    Presence
	jwtManager  *jwt.Manager

	mu    sync.RWMutex
	users map[uuid.UUID]*userStream

	register   chan *Client
	unregister chan *Client
}

// NewChatHub creates a new chat hub and starts its run loop
func NewChatHub(chatService *chat.Service, broadcaster *broadcast.Broadcaster, presence Presence, jwtManager *jwt.Manager) *ChatHub {
	hub := &ChatHub{
		chatService: chatService,
		broadcaster: broadcaster,
		presence:    presence,
		jwtManager:  jwtManager,
		users:       make(map[uuid.UUID]*userStream),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
	}

	go hub.run()

	return hub
}

func (h *ChatHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			stream, ok := h.users[client.userID]
			if !ok {
				ctx, cancel := context.WithCancel(context.Background())
				stream = &userStream{
					clients: make(map[*Client]bool),
					cancel:  cancel,
				}
				h.users[client.userID] = stream
				go h.pumpUserEvents(ctx, client.userID)
			}
			stream.clients[client] = true
			h.mu.Unlock()

			metrics.ChatWebSocketConnectionsActive.Inc()
			if err := h.presence.SetOnline(context.Background(), client.userID); err != nil {
				logger.Warn("presence update failed", zap.Error(err))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if stream, ok := h.users[client.userID]; ok {
				if _, exists := stream.clients[client]; exists {
					delete(stream.clients, client)
					close(client.send)
					metrics.ChatWebSocketConnectionsActive.Dec()

					if len(stream.clients) == 0 {
						stream.cancel()
						delete(h.users, client.userID)
						if err := h.presence.SetOffline(context.Background(), client.userID); err != nil {
							logger.Warn("presence update failed", zap.Error(err))
						}
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// pumpUserEvents forwards the user's private channel to all their local
// connections until the last one leaves
func (h *ChatHub) pumpUserEvents(ctx context.Context, userID uuid.UUID) {
	pubsub := h.broadcaster.Subscribe(ctx, userID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliverToUser(userID, []byte(msg.Payload))
		}
	}
}

func (h *ChatHub) deliverToUser(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stream, ok := h.users[userID]
	if !ok {
		return
	}
	for client := range stream.clients {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; drop rather than block the pump
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("slow_consumer").Inc()
		}
	}
}

// ServeWS authenticates and upgrades a WebSocket request. The bearer token
// is presented once at upgrade, via the Authorization header or a token
// query parameter; a missing or invalid token means no upgrade at all.
// GET /ws/chat
func (h *ChatHub) ServeWS(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		metrics.ChatWebSocketConnectionUnauthorizedTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		metrics.ChatWebSocketConnectionUnauthorizedTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: claims.UserID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func bearerToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// readPump reads client frames and dispatches them. A frame that fails
// processing produces an error event on this connection only; the
// connection itself stays up.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("VALIDATION_ERROR", "malformed frame", "")
			continue
		}

		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *Frame) {
	ctx := context.Background()

	switch frame.Op {
	case OpChatSend:
		var req domain.MessageSend
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.sendError("VALIDATION_ERROR", "malformed chat.send payload", "")
			return
		}
		response, err := c.hub.chatService.Send(ctx, c.userID, &req)
		if err != nil {
			c.sendServiceError(err, req.ClientMsgID)
			return
		}
		// Echo the persisted message back to the sender's own connection
		c.sendEvent(broadcast.Event{Type: broadcast.EventMessage, Payload: response})

	case OpChatTyping:
		var req TypingFrame
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.sendError("VALIDATION_ERROR", "malformed chat.typing payload", "")
			return
		}
		if err := c.hub.chatService.Typing(ctx, c.userID, req.ConversationID, req.IsTyping); err != nil {
			c.sendServiceError(err, "")
		}

	case OpChatRead:
		var req ReadFrame
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.sendError("VALIDATION_ERROR", "malformed chat.read payload", "")
			return
		}
		if err := c.hub.chatService.MarkRead(ctx, c.userID, req.ConversationID); err != nil {
			c.sendServiceError(err, "")
		}

	default:
		c.sendError("VALIDATION_ERROR", "unknown operation: "+frame.Op, "")
	}
}

func (c *Client) sendServiceError(err error, clientMsgID string) {
	appErr := apperrors.GetAppError(err)
	c.sendError(string(appErr.Code), appErr.Message, clientMsgID)
}

func (c *Client) sendError(code, message, clientMsgID string) {
	c.sendEvent(broadcast.Event{
		Type: broadcast.EventError,
		Payload: broadcast.ErrorPayload{
			Code:        code,
			Message:     message,
			ClientMsgID: clientMsgID,
		},
	})
}

func (c *Client) sendEvent(event broadcast.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.ChatClientMessageDroppedTotal.WithLabelValues("slow_consumer").Inc()
	}
}

// writePump writes queued events and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
