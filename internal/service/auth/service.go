package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/repository/cockroach"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/jwt"
	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/password"
)

// UserRepository is the persistence interface for the user directory
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Service issues bearer tokens for the user directory
type Service struct {
	userRepo   UserRepository
	jwtManager *jwt.Manager
}

// NewService creates a new auth service
func NewService(userRepo UserRepository, jwtManager *jwt.Manager) *Service {
	return &Service{userRepo: userRepo, jwtManager: jwtManager}
}

// Register creates a user and issues their first token
func (s *Service) Register(ctx context.Context, req *domain.UserRegister) (*domain.AuthResponse, error) {
	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, apperrors.InternalError("failed to hash password")
	}

	user := &domain.User{
		UserID:       uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		Name:         req.Name,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, cockroach.ErrDuplicate) {
			return nil, apperrors.ConflictError("email or username already taken")
		}
		return nil, apperrors.DatabaseError(err)
	}

	token, err := s.jwtManager.GenerateToken(user.UserID, user.Email, user.Username)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue token")
	}

	logger.Info("user registered", zap.String("user_id", user.UserID.String()))

	return &domain.AuthResponse{Token: token, User: user.ToResponse()}, nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password return the same error.
func (s *Service) Login(ctx context.Context, req *domain.UserLogin) (*domain.AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if user == nil || !password.Verify(req.Password, user.PasswordHash) {
		return nil, apperrors.UnauthorizedError("invalid email or password")
	}

	token, err := s.jwtManager.GenerateToken(user.UserID, user.Email, user.Username)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue token")
	}

	return &domain.AuthResponse{Token: token, User: user.ToResponse()}, nil
}

// GetUser retrieves a user's public profile
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if user == nil {
		return nil, apperrors.UserNotFoundError()
	}
	return user.ToResponse(), nil
}
