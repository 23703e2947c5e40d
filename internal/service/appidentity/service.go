package appidentity

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/repository/cockroach"
	"ispilo-backend/pkg/crypto"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/logger"
)

// appKeyDigits is the length of the numeric per-installation secret
const appKeyDigits = 16

// CredentialRepository is the persistence interface for app credentials
type CredentialRepository interface {
	Create(ctx context.Context, credential *domain.AppCredential) error
	GetByAppID(ctx context.Context, appID string) (*domain.AppCredential, error)
	GetActiveByDeviceID(ctx context.Context, deviceID string) (*domain.AppCredential, error)
	Deactivate(ctx context.Context, appID string) (bool, error)
}

// Service issues and verifies per-installation app credentials
type Service struct {
	repo CredentialRepository

	keyOnce    sync.Once
	keyErr     error
	privateKey *rsa.PrivateKey
	publicKey  string
}

// NewService creates a new app identity service
func NewService(repo CredentialRepository) *Service {
	return &Service{repo: repo}
}

// InitServerKeys establishes the process-wide server key pair. The first
// call wins; repeat calls are no-ops. When keyPath is empty a fresh pair is
// generated, otherwise a PEM-encoded PKCS#1 private key is loaded from disk.
func (s *Service) InitServerKeys(keyPath string) error {
	s.keyOnce.Do(func() {
		var key *rsa.PrivateKey
		var err error
		if keyPath == "" {
			key, err = crypto.GenerateKeyPair()
		} else {
			key, err = loadPrivateKeyPEM(keyPath)
		}
		if err != nil {
			s.keyErr = err
			return
		}

		publicKey, err := crypto.PublicKeyToString(&key.PublicKey)
		if err != nil {
			s.keyErr = err
			return
		}

		s.privateKey = key
		s.publicKey = publicKey
		logger.Info("server key pair initialized",
			zap.Bool("generated", keyPath == ""))
	})
	return s.keyErr
}

func loadPrivateKeyPEM(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("server key file contains no PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server key: %w", err)
	}
	return key, nil
}

// ServerPublicKey returns the public half of the server key pair
func (s *Service) ServerPublicKey() (string, error) {
	if s.publicKey == "" {
		return "", apperrors.InternalError("server keys not initialized")
	}
	return s.publicKey, nil
}

// Register issues a new credential for an app installation. The 16-digit
// secret in the returned credential is revealed here and never again.
func (s *Service) Register(ctx context.Context, registration *domain.AppRegistration) (*domain.AppCredential, error) {
	publicKey, err := s.ServerPublicKey()
	if err != nil {
		return nil, err
	}

	secret, err := crypto.GenerateNumericKey(appKeyDigits)
	if err != nil {
		return nil, apperrors.CryptoFailureError(err)
	}

	credential := &domain.AppCredential{
		AppID:               uuid.New().String(),
		AppPrivateKey:       secret,
		DeviceID:            registration.DeviceID,
		ServerPublicKey:     publicKey,
		EncryptionAlgorithm: crypto.AlgorithmLabel,
		IsActive:            true,
		DeviceName:          registration.DeviceName,
		OSVersion:           registration.OSVersion,
		AppVersion:          registration.AppVersion,
		Platform:            registration.Platform,
		RegisteredAt:        time.Now(),
	}

	if err := s.repo.Create(ctx, credential); err != nil {
		if errors.Is(err, cockroach.ErrDuplicate) {
			return nil, apperrors.ConflictError("app already registered")
		}
		return nil, apperrors.DatabaseError(err)
	}

	logger.Info("app registered",
		zap.String("app_id", credential.AppID),
		zap.String("platform", credential.Platform))

	return credential, nil
}

// IsValid reports whether appID names an active credential
func (s *Service) IsValid(ctx context.Context, appID string) (bool, error) {
	credential, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}
	return credential != nil && credential.IsActive, nil
}

// ValidateApp reports whether appID is active and, when deviceID is given,
// bound to that device
func (s *Service) ValidateApp(ctx context.Context, appID, deviceID string) (bool, error) {
	credential, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}
	if credential == nil || !credential.IsActive {
		return false, nil
	}
	if deviceID != "" && credential.DeviceID != deviceID {
		return false, nil
	}
	return true, nil
}

// GetCredential retrieves a credential by app ID
func (s *Service) GetCredential(ctx context.Context, appID string) (*domain.AppCredential, error) {
	credential, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if credential == nil {
		return nil, apperrors.NotFoundError("App credential")
	}
	return credential, nil
}

// GetCredentialByDevice retrieves the active credential for a device
func (s *Service) GetCredentialByDevice(ctx context.Context, deviceID string) (*domain.AppCredential, error) {
	credential, err := s.repo.GetActiveByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if credential == nil {
		return nil, apperrors.NotFoundError("Active credential for device")
	}
	return credential, nil
}

// Deactivate marks a credential inactive. Unknown or already-inactive app
// IDs are a no-op.
func (s *Service) Deactivate(ctx context.Context, appID string) error {
	deactivated, err := s.repo.Deactivate(ctx, appID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if deactivated {
		logger.Info("app credential deactivated", zap.String("app_id", appID))
	}
	return nil
}

// ValidateChallenge verifies that secret matches the active credential for
// appID. Comparison is constant-time.
func (s *Service) ValidateChallenge(ctx context.Context, appID, secret string) (bool, error) {
	credential, err := s.repo.GetByAppID(ctx, appID)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}
	if credential == nil || !credential.IsActive {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(credential.AppPrivateKey), []byte(secret)) == 1, nil
}
