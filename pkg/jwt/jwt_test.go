package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!", 15*time.Minute)

	userID := uuid.New()
	token, err := manager.GenerateToken(userID, "user@example.com", "testuser")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "testuser", claims.Username)
	assert.Equal(t, "ispilo-auth", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!", 15*time.Minute)
	other := NewManager("another-secret-key-32-chars-long!!", 15*time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "user@example.com", "testuser")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateExpiredToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!", -time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "user@example.com", "testuser")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!", 15*time.Minute)

	_, err := manager.ValidateToken("not.a.token")
	assert.Error(t, err)
}
