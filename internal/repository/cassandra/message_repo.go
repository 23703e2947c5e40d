package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"ispilo-backend/internal/domain"
)

// ErrDuplicateClientMsgID is returned when a sender retries a client message
// ID that has already been claimed
var ErrDuplicateClientMsgID = errors.New("client message id already claimed")

// MessageRepository handles message storage in Cassandra.
//
// messages is partitioned by conversation_id and clustered by created_at DESC
// so history reads are a single-partition slice. message_by_client_id is the
// idempotency claim table: the LWT insert there is the authoritative
// duplicate guard.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// ClaimClientMsgID atomically claims (sender_id, client_msg_id). Returns
// ErrDuplicateClientMsgID with the winning conversation and message IDs when
// the claim was already taken, so duplicates resolve regardless of which
// conversation the retry names.
func (r *MessageRepository) ClaimClientMsgID(ctx context.Context, senderID uuid.UUID, clientMsgID string, conversationID, messageID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	query := `
		INSERT INTO message_by_client_id (sender_id, client_msg_id, conversation_id, message_id)
		VALUES (?, ?, ?, ?)
		IF NOT EXISTS
	`

	// Column order on a CAS miss is primary key first, then regular columns
	// alphabetically
	var existingSender gocql.UUID
	var existingClientMsgID string
	var existingConversationID gocql.UUID
	var existingMessageID gocql.UUID
	applied, err := r.session.Query(query, senderID.String(), clientMsgID, conversationID.String(), messageID.String()).
		WithContext(ctx).
		ScanCAS(&existingSender, &existingClientMsgID, &existingConversationID, &existingMessageID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to claim client message id: %w", err)
	}
	if !applied {
		winnerConversation, err := uuid.Parse(existingConversationID.String())
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("failed to parse existing conversation id: %w", err)
		}
		winnerMessage, err := uuid.Parse(existingMessageID.String())
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("failed to parse existing message id: %w", err)
		}
		return winnerConversation, winnerMessage, ErrDuplicateClientMsgID
	}

	return conversationID, messageID, nil
}

// ReleaseClaim drops an idempotency claim whose message write never landed,
// so the sender can retry with the same client message ID
func (r *MessageRepository) ReleaseClaim(ctx context.Context, senderID uuid.UUID, clientMsgID string) error {
	err := r.session.Query(`
		DELETE FROM message_by_client_id WHERE sender_id = ? AND client_msg_id = ?
	`, senderID.String(), clientMsgID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to release client message id claim: %w", err)
	}
	return nil
}

// Create inserts a message row. The idempotency claim must already be held.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (
			conversation_id, created_at, message_id, client_msg_id,
			sender_id, message_type, content, media_url, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.ConversationID.String(),
		message.CreatedAt,
		message.MessageID.String(),
		message.ClientMsgID,
		message.SenderID.String(),
		message.Type,
		message.Content,
		message.MediaURL,
		message.IsRead,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByMessageID retrieves a single message from a conversation partition;
// (nil, nil) when absent
func (r *MessageRepository) GetByMessageID(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, created_at, message_id, client_msg_id,
		       sender_id, message_type, content, media_url, is_read
		FROM messages
		WHERE conversation_id = ? AND message_id = ?
		ALLOW FILTERING
	`

	iter := r.session.Query(query, conversationID.String(), messageID.String()).
		WithContext(ctx).Iter()
	message, err := scanMessage(iter)
	if err != nil {
		return nil, err
	}
	if closeErr := iter.Close(); closeErr != nil {
		return nil, fmt.Errorf("failed to get message: %w", closeErr)
	}
	return message, nil
}

// GetByConversation retrieves a page of messages newest-first. Offset
// pagination is emulated by reading offset+limit rows from the partition and
// slicing; page sizes are clamped upstream so the read stays bounded.
func (r *MessageRepository) GetByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, bool, error) {
	query := `
		SELECT conversation_id, created_at, message_id, client_msg_id,
		       sender_id, message_type, content, media_url, is_read
		FROM messages
		WHERE conversation_id = ?
		LIMIT ?
	`

	// Read one extra row past the page to detect has_more
	fetch := offset + limit + 1
	iter := r.session.Query(query, conversationID.String(), fetch).
		WithContext(ctx).Iter()

	var all []*domain.Message
	for {
		message, err := scanMessage(iter)
		if err != nil {
			iter.Close()
			return nil, false, err
		}
		if message == nil {
			break
		}
		all = append(all, message)
	}
	if err := iter.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to get messages: %w", err)
	}

	if offset >= len(all) {
		return nil, false, nil
	}
	end := offset + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], hasMore, nil
}

// MarkRead flags every unread message not sent by reader as read. Rows are
// updated by full primary key after a partition scan to find their
// clustering timestamps. Returns the IDs actually flipped.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, reader uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT created_at, message_id, sender_id, is_read FROM messages WHERE conversation_id = ?
	`
	iter := r.session.Query(query, conversationID.String()).WithContext(ctx).Iter()

	type rowKey struct {
		createdAt time.Time
		messageID string
		id        uuid.UUID
	}
	var keys []rowKey
	var createdAt time.Time
	var messageID string
	var senderID string
	var isRead bool
	for iter.Scan(&createdAt, &messageID, &senderID, &isRead) {
		id, err := uuid.Parse(messageID)
		if err != nil {
			continue
		}
		if !isRead && senderID != reader.String() {
			keys = append(keys, rowKey{createdAt: createdAt, messageID: messageID, id: id})
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to scan messages for read update: %w", err)
	}

	var flipped []uuid.UUID
	for _, key := range keys {
		err := r.session.Query(`
			UPDATE messages SET is_read = true
			WHERE conversation_id = ? AND created_at = ? AND message_id = ?
		`, conversationID.String(), key.createdAt, key.messageID).WithContext(ctx).Exec()
		if err != nil {
			return flipped, fmt.Errorf("failed to mark message read: %w", err)
		}
		flipped = append(flipped, key.id)
	}

	return flipped, nil
}

// DeleteByConversation drops all messages for a destroyed conversation
func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error {
	err := r.session.Query(`
		DELETE FROM messages WHERE conversation_id = ?
	`, conversationID.String()).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// scanMessage reads the next row from iter; (nil, nil) when exhausted
func scanMessage(iter *gocql.Iter) (*domain.Message, error) {
	var (
		conversationID string
		createdAt      time.Time
		messageID      string
		clientMsgID    string
		senderID       string
		messageType    string
		content        string
		mediaURL       *string
		isRead         bool
	)

	if !iter.Scan(&conversationID, &createdAt, &messageID, &clientMsgID,
		&senderID, &messageType, &content, &mediaURL, &isRead) {
		return nil, nil
	}

	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conversation id: %w", err)
	}
	msgID, err := uuid.Parse(messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message id: %w", err)
	}
	sndID, err := uuid.Parse(senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sender id: %w", err)
	}

	return &domain.Message{
		MessageID:      msgID,
		ClientMsgID:    clientMsgID,
		ConversationID: convID,
		SenderID:       sndID,
		Type:           messageType,
		Content:        content,
		MediaURL:       mediaURL,
		IsRead:         isRead,
		CreatedAt:      createdAt,
	}, nil
}
