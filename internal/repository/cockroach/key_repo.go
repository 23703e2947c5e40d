package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyRepository stores per-conversation AES keys. Keys are write-once: the
// first writer wins and later writers read back the stored key.
type KeyRepository struct {
	pool *pgxpool.Pool
}

// NewKeyRepository creates a new conversation key repository
func NewKeyRepository(pool *pgxpool.Pool) *KeyRepository {
	return &KeyRepository{pool: pool}
}

// SetIfAbsent stores the key for a conversation unless one already exists.
// Returns the stored key, which is the candidate only when this call won.
func (r *KeyRepository) SetIfAbsent(ctx context.Context, conversationID uuid.UUID, key string) (string, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_keys (conversation_id, encryption_key, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO NOTHING
	`, conversationID, key)
	if err != nil {
		return "", fmt.Errorf("failed to store conversation key: %w", err)
	}

	stored, err := r.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", fmt.Errorf("conversation key missing after insert")
	}
	return stored, nil
}

// Get retrieves the key for a conversation; returns "" when absent
func (r *KeyRepository) Get(ctx context.Context, conversationID uuid.UUID) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `
		SELECT encryption_key FROM conversation_keys WHERE conversation_id = $1
	`, conversationID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}
	return key, nil
}

// Delete removes the key for a destroyed conversation
func (r *KeyRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM conversation_keys WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation key: %w", err)
	}
	return nil
}
