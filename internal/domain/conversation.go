package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Conversation represents conversation metadata
// Maps to CockroachDB conversations table. The encryption key lives in its
// own table (conversation_keys) and is never serialized to clients.
type Conversation struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	Type           string     `json:"type" db:"type"` // direct, group
	LastMessage    *string    `json:"last_message,omitempty" db:"last_message"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	// Participants is loaded alongside the row, not a lazy association
	Participants []uuid.UUID `json:"participants"`
}

// HasParticipant reports whether userID is a current participant
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationCreate represents data to create a new conversation
type ConversationCreate struct {
	Type           string      `json:"type" binding:"required,oneof=direct group"`
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required,min=1"`
}
