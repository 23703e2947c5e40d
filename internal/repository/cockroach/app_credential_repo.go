package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ispilo-backend/internal/domain"
)

// AppCredentialRepository stores per-installation app credentials
type AppCredentialRepository struct {
	pool *pgxpool.Pool
}

// NewAppCredentialRepository creates a new app credential repository
func NewAppCredentialRepository(pool *pgxpool.Pool) *AppCredentialRepository {
	return &AppCredentialRepository{pool: pool}
}

// Create inserts a new app credential
func (r *AppCredentialRepository) Create(ctx context.Context, credential *domain.AppCredential) error {
	query := `
		INSERT INTO app_credentials (
			app_id, app_private_key, device_id, server_public_key,
			encryption_algorithm, is_active, device_name, os_version,
			app_version, platform, registered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		credential.AppID,
		credential.AppPrivateKey,
		credential.DeviceID,
		credential.ServerPublicKey,
		credential.EncryptionAlgorithm,
		credential.IsActive,
		credential.DeviceName,
		credential.OSVersion,
		credential.AppVersion,
		credential.Platform,
		credential.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create app credential: %w", err)
	}

	return nil
}

func (r *AppCredentialRepository) scanOne(ctx context.Context, query string, arg any) (*domain.AppCredential, error) {
	credential := &domain.AppCredential{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&credential.AppID,
		&credential.AppPrivateKey,
		&credential.DeviceID,
		&credential.ServerPublicKey,
		&credential.EncryptionAlgorithm,
		&credential.IsActive,
		&credential.DeviceName,
		&credential.OSVersion,
		&credential.AppVersion,
		&credential.Platform,
		&credential.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get app credential: %w", err)
	}
	return credential, nil
}

const credentialColumns = `
	app_id, app_private_key, device_id, server_public_key,
	encryption_algorithm, is_active, device_name, os_version,
	app_version, platform, registered_at
`

// GetByAppID retrieves a credential by app ID; (nil, nil) when absent
func (r *AppCredentialRepository) GetByAppID(ctx context.Context, appID string) (*domain.AppCredential, error) {
	return r.scanOne(ctx, `SELECT `+credentialColumns+` FROM app_credentials WHERE app_id = $1`, appID)
}

// GetActiveByDeviceID retrieves the active credential for a device; (nil, nil) when absent
func (r *AppCredentialRepository) GetActiveByDeviceID(ctx context.Context, deviceID string) (*domain.AppCredential, error) {
	return r.scanOne(ctx, `
		SELECT `+credentialColumns+`
		FROM app_credentials
		WHERE device_id = $1 AND is_active = true
		ORDER BY registered_at DESC
		LIMIT 1
	`, deviceID)
}

// Deactivate marks a credential inactive. Rows are never deleted.
// Returns false when no such credential exists.
func (r *AppCredentialRepository) Deactivate(ctx context.Context, appID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE app_credentials SET is_active = false WHERE app_id = $1
	`, appID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate app credential: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
