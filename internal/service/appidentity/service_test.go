package appidentity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/repository/cockroach"
	"ispilo-backend/pkg/crypto"
	apperrors "ispilo-backend/pkg/errors"
)

var testKeyPath string

// TestMain generates one small key pair for the whole suite; generating a
// full-size pair per test would dominate the run time
func TestMain(m *testing.M) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	f, err := os.CreateTemp("", "server-key-*.pem")
	if err != nil {
		panic(err)
	}
	if err := pem.Encode(f, &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}); err != nil {
		panic(err)
	}
	f.Close()
	testKeyPath = f.Name()

	code := m.Run()
	os.Remove(testKeyPath)
	os.Exit(code)
}

type mockCredentialRepo struct {
	mock.Mock
}

func (m *mockCredentialRepo) Create(ctx context.Context, credential *domain.AppCredential) error {
	args := m.Called(ctx, credential)
	return args.Error(0)
}

func (m *mockCredentialRepo) GetByAppID(ctx context.Context, appID string) (*domain.AppCredential, error) {
	args := m.Called(ctx, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AppCredential), args.Error(1)
}

func (m *mockCredentialRepo) GetActiveByDeviceID(ctx context.Context, deviceID string) (*domain.AppCredential, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AppCredential), args.Error(1)
}

func (m *mockCredentialRepo) Deactivate(ctx context.Context, appID string) (bool, error) {
	args := m.Called(ctx, appID)
	return args.Bool(0), args.Error(1)
}

func newTestService(t *testing.T) (*Service, *mockCredentialRepo) {
	t.Helper()
	repo := new(mockCredentialRepo)
	svc := NewService(repo)
	require.NoError(t, svc.InitServerKeys(testKeyPath))
	return svc, repo
}

func TestInitServerKeysIdempotent(t *testing.T) {
	svc := NewService(new(mockCredentialRepo))

	require.NoError(t, svc.InitServerKeys(testKeyPath))
	first, err := svc.ServerPublicKey()
	require.NoError(t, err)

	require.NoError(t, svc.InitServerKeys(testKeyPath))
	second, err := svc.ServerPublicKey()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRegister(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.AppCredential")).Return(nil)

	credential, err := svc.Register(context.Background(), &domain.AppRegistration{
		DeviceID:   "device-1",
		DeviceName: "Pixel 9",
		Platform:   "android",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, credential.AppID)
	assert.Len(t, credential.AppPrivateKey, 16)
	assert.Equal(t, crypto.AlgorithmLabel, credential.EncryptionAlgorithm)
	assert.True(t, credential.IsActive)
	assert.NotEmpty(t, credential.ServerPublicKey)
	repo.AssertExpectations(t)
}

func TestRegisterDuplicateDevice(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("Create", mock.Anything, mock.Anything).Return(cockroach.ErrDuplicate)

	_, err := svc.Register(context.Background(), &domain.AppRegistration{
		DeviceID: "device-1",
		Platform: "ios",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestIsValid(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("GetByAppID", mock.Anything, "active-app").Return(&domain.AppCredential{
		AppID:    "active-app",
		IsActive: true,
	}, nil)
	repo.On("GetByAppID", mock.Anything, "inactive-app").Return(&domain.AppCredential{
		AppID:    "inactive-app",
		IsActive: false,
	}, nil)
	repo.On("GetByAppID", mock.Anything, "missing-app").Return(nil, nil)

	valid, err := svc.IsValid(context.Background(), "active-app")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = svc.IsValid(context.Background(), "inactive-app")
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = svc.IsValid(context.Background(), "missing-app")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestDeactivateUnknownIsNoOp(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("Deactivate", mock.Anything, "missing-app").Return(false, nil)

	err := svc.Deactivate(context.Background(), "missing-app")
	assert.NoError(t, err)
}

func TestValidateChallenge(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("GetByAppID", mock.Anything, "app-1").Return(&domain.AppCredential{
		AppID:         "app-1",
		AppPrivateKey: "1234567890123456",
		IsActive:      true,
	}, nil)
	repo.On("GetByAppID", mock.Anything, "app-2").Return(&domain.AppCredential{
		AppID:         "app-2",
		AppPrivateKey: "1234567890123456",
		IsActive:      false,
	}, nil)

	ok, err := svc.ValidateChallenge(context.Background(), "app-1", "1234567890123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidateChallenge(context.Background(), "app-1", "0000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.ValidateChallenge(context.Background(), "app-2", "1234567890123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCredentialByDevice(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("GetActiveByDeviceID", mock.Anything, "device-1").Return(&domain.AppCredential{
		AppID:    "app-1",
		DeviceID: "device-1",
		IsActive: true,
	}, nil)
	repo.On("GetActiveByDeviceID", mock.Anything, "device-2").Return(nil, nil)

	credential, err := svc.GetCredentialByDevice(context.Background(), "device-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", credential.AppID)

	_, err = svc.GetCredentialByDevice(context.Background(), "device-2")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestValidateAppDeviceBinding(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("GetByAppID", mock.Anything, "app-1").Return(&domain.AppCredential{
		AppID:    "app-1",
		DeviceID: "device-1",
		IsActive: true,
	}, nil)

	ok, err := svc.ValidateApp(context.Background(), "app-1", "device-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidateApp(context.Background(), "app-1", "device-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing device header still passes an active credential
	ok, err = svc.ValidateApp(context.Background(), "app-1", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

// memoryCredentialRepo is a stateful fake for lifecycle tests
type memoryCredentialRepo struct {
	credentials map[string]*domain.AppCredential
}

func newMemoryCredentialRepo() *memoryCredentialRepo {
	return &memoryCredentialRepo{credentials: make(map[string]*domain.AppCredential)}
}

func (r *memoryCredentialRepo) Create(ctx context.Context, credential *domain.AppCredential) error {
	if _, exists := r.credentials[credential.AppID]; exists {
		return cockroach.ErrDuplicate
	}
	copied := *credential
	r.credentials[credential.AppID] = &copied
	return nil
}

func (r *memoryCredentialRepo) GetByAppID(ctx context.Context, appID string) (*domain.AppCredential, error) {
	return r.credentials[appID], nil
}

func (r *memoryCredentialRepo) GetActiveByDeviceID(ctx context.Context, deviceID string) (*domain.AppCredential, error) {
	for _, credential := range r.credentials {
		if credential.DeviceID == deviceID && credential.IsActive {
			return credential, nil
		}
	}
	return nil, nil
}

func (r *memoryCredentialRepo) Deactivate(ctx context.Context, appID string) (bool, error) {
	credential, exists := r.credentials[appID]
	if !exists {
		return false, nil
	}
	credential.IsActive = false
	return true, nil
}

func TestCredentialLifecycle(t *testing.T) {
	svc := NewService(newMemoryCredentialRepo())
	require.NoError(t, svc.InitServerKeys(testKeyPath))
	ctx := context.Background()

	credential, err := svc.Register(ctx, &domain.AppRegistration{
		DeviceID: "device-1",
		Platform: "android",
	})
	require.NoError(t, err)

	valid, err := svc.IsValid(ctx, credential.AppID)
	require.NoError(t, err)
	assert.True(t, valid)

	ok, err := svc.ValidateChallenge(ctx, credential.AppID, credential.AppPrivateKey)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Deactivate(ctx, credential.AppID))

	valid, err = svc.IsValid(ctx, credential.AppID)
	require.NoError(t, err)
	assert.False(t, valid)

	// Deactivated credentials fail the challenge too
	ok, err = svc.ValidateChallenge(ctx, credential.AppID, credential.AppPrivateKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// Repeat deactivation stays a no-op
	assert.NoError(t, svc.Deactivate(ctx, credential.AppID))
}

func TestGetCredentialNotFound(t *testing.T) {
	svc, repo := newTestService(t)

	repo.On("GetByAppID", mock.Anything, "missing-app").Return(nil, nil)

	_, err := svc.GetCredential(context.Background(), "missing-app")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}
