package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// presenceTTL bounds how stale a presence entry can get if a gateway dies
// without cleaning up
const presenceTTL = 90 * time.Second

// PresenceRepository tracks which users hold live gateway connections
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetOnline marks a user online with a refreshing TTL
func (r *PresenceRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Set(ctx, presenceKey(userID), "online", presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// Refresh extends the presence TTL for a still-connected user
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// SetOffline clears a user's presence entry
func (r *PresenceRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// IsOnline reports whether a user has a live presence entry
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return true, nil
}
