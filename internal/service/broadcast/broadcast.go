package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/metrics"
)

// Event types pushed to client channels
const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventRead    = "read"
	EventError   = "error"
)

// Event is the envelope published to a user's private channel
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TypingPayload notifies recipients that a user is typing
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
}

// ReadPayload notifies recipients that messages were read
type ReadPayload struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
}

// ErrorPayload carries a processing failure back to the sender only
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// ChannelForUser returns the Redis pub/sub channel carrying a user's events
func ChannelForUser(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:events", userID)
}

// Broadcaster fans events out to per-user Redis channels. Delivery is
// best-effort at-most-once: a publish failure for one recipient is logged
// and counted, never surfaced to the sender.
type Broadcaster struct {
	client *redis.Client
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

// PublishToUser publishes one event to one user's channel
func (b *Broadcaster) PublishToUser(ctx context.Context, userID uuid.UUID, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, ChannelForUser(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// FanOut publishes an event to every recipient, skipping failures.
// Returns the number of successful publishes.
func (b *Broadcaster) FanOut(ctx context.Context, recipients []uuid.UUID, event Event) int {
	delivered := 0
	for _, userID := range recipients {
		if err := b.PublishToUser(ctx, userID, event); err != nil {
			metrics.ChatMessagePublishedTotal.WithLabelValues("error").Inc()
			logger.Warn("event publish failed",
				zap.String("user_id", userID.String()),
				zap.String("event_type", event.Type),
				zap.Error(err))
			continue
		}
		metrics.ChatMessagePublishedTotal.WithLabelValues("ok").Inc()
		delivered++
	}
	return delivered
}

// Subscribe opens a pub/sub subscription on a user's channel. The caller
// owns the returned subscription and must Close it.
func (b *Broadcaster) Subscribe(ctx context.Context, userID uuid.UUID) *redis.PubSub {
	return b.client.Subscribe(ctx, ChannelForUser(userID))
}
