package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeMedia  = "media"
	MessageTypeSystem = "system"
)

// ValidMessageType reports whether t is a known message type
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeMedia, MessageTypeSystem:
		return true
	}
	return false
}

// Message represents a chat message entity
// Maps to Cassandra messages table. Content holds the AES-GCM blob for
// text/media captions; media URLs are stored in the clear.
type Message struct {
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"`
	ClientMsgID    string    `json:"client_msg_id" cql:"client_msg_id"`
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id" cql:"sender_id"`
	Type           string    `json:"type" cql:"message_type"`
	Content        string    `json:"-" cql:"content"` // ciphertext, never serialized
	MediaURL       *string   `json:"media_url,omitempty" cql:"media_url"`
	IsRead         bool      `json:"is_read" cql:"is_read"`
	CreatedAt      time.Time `json:"created_at" cql:"created_at"`
}

// MessageSend represents a message submitted for delivery. Content arrives
// in plaintext over the authenticated connection and is encrypted at rest.
type MessageSend struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	ClientMsgID    string    `json:"client_msg_id" binding:"required"`
	Type           string    `json:"type" binding:"required,oneof=text media system"`
	Content        string    `json:"content"`
	MediaURL       *string   `json:"media_url,omitempty"`
}

// MessageResponse represents the message returned to clients.
// Content here is always plaintext; ciphertext never leaves the service layer.
type MessageResponse struct {
	MessageID      uuid.UUID `json:"message_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Type           string    `json:"type"`
	Content        string    `json:"content,omitempty"`
	MediaURL       *string   `json:"media_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToResponse copies the stored message into its client view with the given
// plaintext content
func (m *Message) ToResponse(plaintext string) *MessageResponse {
	return &MessageResponse{
		MessageID:      m.MessageID,
		ClientMsgID:    m.ClientMsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        plaintext,
		MediaURL:       m.MediaURL,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}
