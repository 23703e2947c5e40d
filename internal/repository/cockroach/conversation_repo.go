package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ispilo-backend/internal/domain"
)

// ConversationRepository handles conversation and participant storage
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a conversation and its participants in one transaction
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (conversation_id, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, conversation.ConversationID, conversation.Type, conversation.CreatedAt, conversation.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range conversation.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, conversation.ConversationID, userID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation with its participants; (nil, nil) when absent
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, type, last_message, last_message_at, created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conversation := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&conversation.Type,
		&conversation.LastMessage,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	participants, err := r.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants

	return conversation, nil
}

// GetParticipants retrieves all participant IDs in a conversation
func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, userID)
	}

	return participants, rows.Err()
}

// FindDirectBetween looks up the direct conversation shared by two users.
// Pair identity is unordered; returns (nil, nil) when no such conversation
// exists.
func (r *ConversationRepository) FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.conversation_id
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.conversation_id AND pa.user_id = $1
		JOIN conversation_participants pb ON pb.conversation_id = c.conversation_id AND pb.user_id = $2
		WHERE c.type = 'direct'
		LIMIT 1
	`

	var conversationID uuid.UUID
	err := r.pool.QueryRow(ctx, query, userA, userB).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}

	return r.GetByID(ctx, conversationID)
}

// ListForUser retrieves conversations for a user, most recent activity first
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT c.conversation_id, c.type, c.last_message, c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON c.conversation_id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation := &domain.Conversation{}
		err := rows.Scan(
			&conversation.ConversationID,
			&conversation.Type,
			&conversation.LastMessage,
			&conversation.LastMessageAt,
			&conversation.CreatedAt,
			&conversation.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conversation := range conversations {
		participants, err := r.GetParticipants(ctx, conversation.ConversationID)
		if err != nil {
			return nil, err
		}
		conversation.Participants = participants
	}

	return conversations, nil
}

// RemoveParticipant removes a user and returns the remaining participant count
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove participant: %w", err)
	}

	var remaining int
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = $1
	`, conversationID).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}

	return remaining, nil
}

// UpdateLastMessage updates the conversation summary fields
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message = $2, last_message_at = $3, updated_at = $3
		WHERE conversation_id = $1
	`, conversationID, preview, at)
	if err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}
	return nil
}

// Delete destroys a conversation, its participants, and its key. Messages
// live in Cassandra and are deleted explicitly by the caller.
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_keys WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation key: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}
